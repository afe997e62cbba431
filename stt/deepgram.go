// Package stt streams raw audio to the Deepgram recognizer and delivers
// transcript fragments with word-level timing. The rest of the pipeline
// only acts on fragments marked final.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	gws "github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Word is word-level timing within one fragment, in session-relative
// milliseconds as reported by the recognizer.
type Word struct {
	Word       string
	StartMS    int64
	EndMS      int64
	Confidence float64
}

// Result is one transcript fragment.
type Result struct {
	Text       string
	Confidence float64
	IsFinal    bool
	Words      []Word
}

// Stream is an active recognition session.
type Stream interface {
	SendAudio(chunk []byte) error
	Results() <-chan Result
	Close() error
}

// Client dials Deepgram streaming sessions.
type Client struct {
	apiKey  string
	baseURL string
}

// NewClient builds a Deepgram client.
func NewClient(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	return &Client{apiKey: apiKey, baseURL: "wss://api.deepgram.com/v1/listen"}, nil
}

// Start opens a streaming session for the given audio parameters.
func (c *Client) Start(ctx context.Context, sampleRate int, encoding string) (Stream, error) {
	q := url.Values{}
	q.Set("model", "nova-2")
	q.Set("encoding", deepgramEncoding(encoding))
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	q.Set("channels", "1")
	q.Set("language", "en-US")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")

	header := http.Header{"Authorization": {"Token " + c.apiKey}}
	conn, _, err := gws.DefaultDialer.DialContext(ctx, c.baseURL+"?"+q.Encode(), header)
	if err != nil {
		return nil, errors.Wrap(err, "deepgram dial")
	}

	s := &session{
		conn:    conn,
		results: make(chan Result, 64),
		log:     logrus.WithField("component", "stt"),
	}
	go s.readLoop()
	return s, nil
}

func deepgramEncoding(encoding string) string {
	switch encoding {
	case "pcm":
		return "linear16"
	case "opus", "ogg-opus":
		return "opus"
	default:
		return "linear16"
	}
}

type session struct {
	conn    *gws.Conn
	results chan Result
	log     *logrus.Entry

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// resultFrame is the slice of the Deepgram response the pipeline needs.
type resultFrame struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(gws.BinaryMessage, chunk); err != nil {
		return errors.Wrap(err, "deepgram write")
	}
	return nil
}

func (s *session) Results() <-chan Result {
	return s.results
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(gws.CloseMessage,
			gws.FormatCloseMessage(gws.CloseNormalClosure, "session ended"))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *session) readLoop() {
	defer close(s.results)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				s.log.WithError(err).Debug("read loop ended")
			}
			return
		}
		var frame resultFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.log.WithError(err).Warn("unparseable recognizer frame")
			continue
		}
		if len(frame.Channel.Alternatives) == 0 {
			continue
		}
		alt := frame.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}
		res := Result{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			IsFinal:    frame.IsFinal,
		}
		for _, w := range alt.Words {
			res.Words = append(res.Words, Word{
				Word:       w.Word,
				StartMS:    int64(w.Start * 1000),
				EndMS:      int64(w.End * 1000),
				Confidence: w.Confidence,
			})
		}
		s.results <- res
	}
}
