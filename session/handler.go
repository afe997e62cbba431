// Package session runs the per-client message loop: it receives audio
// over the websocket, feeds the recognizer, places everything on the
// session timeline, and drives batch analysis, help decisions and
// persistence. One Handler per connection.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bookmark-reading/Lon03/analysis"
	"github.com/bookmark-reading/Lon03/model"
	"github.com/bookmark-reading/Lon03/persist"
	"github.com/bookmark-reading/Lon03/stt"
	"github.com/bookmark-reading/Lon03/timeline"
)

// Conn is the websocket surface the handler needs. *websocket.Conn
// satisfies it; tests substitute a fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Recognizer starts streaming speech recognition sessions.
type Recognizer interface {
	Start(ctx context.Context, sampleRate int, encoding string) (stt.Stream, error)
}

// Synthesizer renders help messages to audio.
type Synthesizer interface {
	GenerateSpeech(ctx context.Context, text string) ([]byte, error)
}

// Scorer combines transcript grading with the real-time help check.
type Scorer interface {
	analysis.Scorer
	CheckHelp(ctx context.Context, recentText string) (model.HelpDecision, error)
}

// Options tune per-session behavior.
type Options struct {
	BatchInterval time.Duration
	// RetainAudio keeps raw chunk payloads on the timeline.
	RetainAudio bool
	// HelpCheckEvery is the number of final transcripts accumulated
	// between help checks. 0 uses the default of 3.
	HelpCheckEvery int
}

// Handler owns one client connection end to end.
type Handler struct {
	clientID string
	conn     Conn
	timeline *timeline.Store
	pipeline *persist.Pipeline
	scorer   Scorer
	tts      Synthesizer
	stt      Recognizer
	opts     Options
	log      *logrus.Entry

	writeMu sync.Mutex

	mu        sync.Mutex
	session   *model.ReadingSession
	studentID string
	batch     *analysis.BatchAnalyzer
	batches   []*model.BatchMetrics
	finals    []string // every final transcript, for the summary
	helpBuf   []string // finals since the last help check
	helpTS    []time.Time
	helpStart int64 // session offset where the current help window began
	passage   string
	ended     bool
	stream    stt.Stream
	streamWG  sync.WaitGroup
}

// NewHandler wires a handler for one connection. tts may be nil; help
// events are then recorded without audio.
func NewHandler(conn Conn, tl *timeline.Store, pipe *persist.Pipeline, sc Scorer, synth Synthesizer, rec Recognizer, opts Options) *Handler {
	if opts.HelpCheckEvery <= 0 {
		opts.HelpCheckEvery = 3
	}
	clientID := uuid.New().String()
	return &Handler{
		clientID: clientID,
		conn:     conn,
		timeline: tl,
		pipeline: pipe,
		scorer:   sc,
		tts:      synth,
		stt:      rec,
		opts:     opts,
		log:      logrus.WithFields(logrus.Fields{"component": "session", "client": clientID}),
	}
}

// ClientID returns the identifier assigned to this connection.
func (h *Handler) ClientID() string { return h.clientID }

// owner is the identity persisted records are indexed under: the
// student announced at session start, or the connection id before one
// is known.
func (h *Handler) owner() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.studentID != "" {
		return h.studentID
	}
	return h.clientID
}

// Run reads client events until the connection closes, then finalizes
// whatever session is still open. It blocks for the connection lifetime.
func (h *Handler) Run(ctx context.Context) {
	defer h.shutdown(ctx)

	for {
		_, msg, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Info("connection closed")
			} else {
				h.log.WithError(err).Warn("read failed")
			}
			return
		}
		var ev inboundEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			h.sendError("malformed event")
			continue
		}

		switch ev.Type {
		case eventSessionStart:
			h.handleSessionStart(ev)
		case eventAudioInput:
			h.handleAudioInput(ctx, ev)
		case eventSessionEnd:
			h.handleSessionEnd(ctx)
		default:
			h.sendError("unknown event type: " + ev.Type)
		}
	}
}

func (h *Handler) handleSessionStart(ev inboundEvent) {
	session, err := h.timeline.CreateSession(h.clientID, ev.StudentID)
	if err != nil {
		h.sendError("session already active")
		return
	}

	h.mu.Lock()
	h.session = session
	h.studentID = ev.StudentID
	h.passage = ev.ExpectedPassage
	h.batch = analysis.NewBatchAnalyzer(h.scorer, h.opts.BatchInterval, ev.ExpectedPassage)
	h.batches = nil
	h.finals = nil
	h.helpBuf = nil
	h.helpTS = nil
	h.helpStart = 0
	h.ended = false
	h.mu.Unlock()

	if err := h.pipeline.PersistSession(session); err != nil {
		h.log.WithError(err).Warn("session metadata not queued")
	}
	h.send(sessionStartedEvent{Type: "session_started", SessionID: session.SessionID.String()})
	h.log.WithField("session", session.SessionID).Info("session started")
}

func (h *Handler) handleAudioInput(ctx context.Context, ev inboundEvent) {
	payload, err := base64.StdEncoding.DecodeString(ev.Audio)
	if err != nil {
		h.sendError("audio payload is not valid base64")
		return
	}
	sampleRate := ev.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	encoding := ev.Encoding
	if encoding == "" {
		encoding = "linear16"
	}

	chunk, err := h.timeline.StoreChunk(h.clientID, payload, sampleRate, encoding, h.opts.RetainAudio)
	if err != nil {
		h.log.WithError(err).Error("chunk not stored")
		return
	}
	h.mu.Lock()
	if h.session == nil {
		// StoreChunk created the session implicitly.
		h.session, _ = h.timeline.Session(h.clientID)
		if h.batch == nil {
			h.batch = analysis.NewBatchAnalyzer(h.scorer, h.opts.BatchInterval, h.passage)
		}
	}
	h.mu.Unlock()

	// Persistence never blocks ingestion: a full queue is logged and the
	// chunk stays on the in-memory timeline.
	if err := h.pipeline.PersistChunk(chunk); err != nil {
		h.log.WithError(err).Warn("chunk not queued")
	}

	stream, err := h.ensureStream(ctx, sampleRate, encoding)
	if err != nil {
		h.log.WithError(err).Error("recognizer unavailable")
		return
	}
	if err := stream.SendAudio(payload); err != nil {
		h.log.WithError(err).Warn("audio not forwarded to recognizer")
	}
}

// ensureStream lazily dials the recognizer on the first audio chunk,
// when the sample rate and encoding are known.
func (h *Handler) ensureStream(ctx context.Context, sampleRate int, encoding string) (stt.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream != nil {
		return h.stream, nil
	}
	stream, err := h.stt.Start(ctx, sampleRate, encoding)
	if err != nil {
		return nil, err
	}
	h.stream = stream
	h.streamWG.Add(1)
	go h.consumeResults(ctx, stream)
	return stream, nil
}

// consumeResults drains the recognizer. Provisional fragments are only
// forwarded to the client; final ones enter the timeline, the batch
// window and the help accumulator.
func (h *Handler) consumeResults(ctx context.Context, stream stt.Stream) {
	defer h.streamWG.Done()
	for res := range stream.Results() {
		offset := h.timeline.CurrentSessionTimeMS(h.clientID)
		h.send(transcriptionEvent{
			Type:            "transcription",
			Text:            res.Text,
			IsFinal:         res.IsFinal,
			Confidence:      res.Confidence,
			SessionOffsetMS: offset,
		})
		if !res.IsFinal || res.Text == "" {
			continue
		}
		h.onFinalTranscript(ctx, res, offset)
	}
}

func (h *Handler) onFinalTranscript(ctx context.Context, res stt.Result, offset int64) {
	h.mu.Lock()
	session := h.session
	h.mu.Unlock()
	if session == nil {
		return
	}

	now := time.Now()
	t := &model.Transcription{
		TranscriptionID: uuid.New(),
		SessionID:       session.SessionID,
		Text:            res.Text,
		SessionOffsetMS: offset,
		Confidence:      res.Confidence,
		IsFinal:         true,
		CreatedAt:       now,
	}
	for _, w := range res.Words {
		t.WordTimestamps = append(t.WordTimestamps, model.WordTimestamp{
			Word:        w.Word,
			StartTimeMS: w.StartMS,
			EndTimeMS:   w.EndMS,
			Confidence:  w.Confidence,
		})
	}
	if len(res.Words) > 0 {
		t.StartTimeMS = res.Words[0].StartMS
		t.EndTimeMS = res.Words[len(res.Words)-1].EndMS
	}

	if err := h.timeline.AppendTranscription(h.clientID, t); err != nil {
		h.log.WithError(err).Warn("transcription not recorded")
		return
	}
	if err := h.pipeline.PersistTranscription(t, h.owner()); err != nil {
		h.log.WithError(err).Warn("transcription not queued")
	}

	h.mu.Lock()
	h.finals = append(h.finals, res.Text)
	h.batch.AddTranscription(res.Text, now, res.Confidence)
	shouldClose := h.batch.ShouldClose(now)
	h.helpBuf = append(h.helpBuf, res.Text)
	h.helpTS = append(h.helpTS, now)
	checkHelp := len(h.helpBuf) >= h.opts.HelpCheckEvery
	var recent []string
	var recentTS []time.Time
	var windowStart int64
	if checkHelp {
		recent = h.helpBuf
		recentTS = h.helpTS
		windowStart = h.helpStart
		h.helpBuf = nil
		h.helpTS = nil
		h.helpStart = offset
	}
	h.mu.Unlock()

	if shouldClose {
		h.closeBatchWindow(ctx, session.SessionID)
	}
	if checkHelp {
		go h.runHelpCheck(ctx, session.SessionID, recent, recentTS, windowStart, offset)
	}
}

// closeBatchWindow runs only on the results goroutine or, after the
// stream is drained, on the end-of-session path, so the analyzer itself
// needs no lock and the scorer call happens without one.
func (h *Handler) closeBatchWindow(ctx context.Context, sessionID uuid.UUID) {
	h.mu.Lock()
	batch := h.batch
	h.mu.Unlock()
	if batch == nil {
		return
	}

	metrics, err := batch.CloseWindow(ctx, sessionID)
	if err != nil || metrics == nil {
		return
	}

	h.mu.Lock()
	h.batches = append(h.batches, metrics)
	h.mu.Unlock()

	if err := h.pipeline.PersistBatchMetrics(ctx, metrics, h.owner()); err != nil {
		h.log.WithError(err).Warn("batch metrics not persisted")
	}
	h.send(batchAnalysisEvent{Type: "batch_analysis", Metrics: metrics})
}

// runHelpCheck asks the scorer whether the reader is struggling and, if
// so, records and announces an intervention. Runs off the read loop so a
// slow scorer never stalls ingestion.
func (h *Handler) runHelpCheck(ctx context.Context, sessionID uuid.UUID, recent []string, recentTS []time.Time, windowStart, offset int64) {
	decision, err := h.scorer.CheckHelp(ctx, strings.Join(recent, " "))
	if err != nil {
		h.log.WithError(err).Warn("help check failed")
		return
	}
	if !decision.NeedsHelp {
		return
	}

	event := &model.HelpEvent{
		EventID:               uuid.New(),
		SessionID:             sessionID,
		SessionTimeOffsetMS:   offset,
		AccumulationMS:        offset - windowStart,
		TriggerTranscriptions: recent,
		TriggerTimestamps:     recentTS,
		HelpMessage:           decision.HelpMessage,
		ResponseTimestamp:     time.Now(),
		Confidence:            decision.Confidence,
		Reason:                decision.Reason,
	}
	// The audio that produced the trigger transcripts spans the window
	// between help checks.
	for _, c := range h.timeline.ChunksInRange(h.clientID, windowStart, offset) {
		event.AudioSegmentIDs = append(event.AudioSegmentIDs, c.ChunkID)
	}

	// Synthesis failure is tolerated: the event still goes out and gets
	// recorded, just without audio.
	var audioB64 string
	if h.tts != nil {
		if audio, err := h.tts.GenerateSpeech(ctx, decision.HelpMessage); err != nil {
			h.log.WithError(err).Warn("help audio synthesis failed")
		} else {
			event.AudioResponse = audio
			audioB64 = base64.StdEncoding.EncodeToString(audio)
		}
	}

	if err := h.timeline.AppendHelpEvent(h.clientID, event); err != nil {
		h.log.WithError(err).Warn("help event not recorded")
	}
	if err := h.pipeline.PersistHelpEvent(ctx, event, h.owner()); err != nil {
		h.log.WithError(err).Warn("help event not persisted")
	}
	h.send(helpNeededEvent{
		Type:       "help_needed",
		Message:    decision.HelpMessage,
		Audio:      audioB64,
		Confidence: decision.Confidence,
		Reason:     decision.Reason,
	})
}

func (h *Handler) handleSessionEnd(ctx context.Context) {
	h.mu.Lock()
	if h.ended || h.session == nil {
		h.mu.Unlock()
		return
	}
	h.ended = true
	stream := h.stream
	h.stream = nil
	h.mu.Unlock()

	// Stop recognition first so no new finals race the summary.
	if stream != nil {
		if err := stream.Close(); err != nil {
			h.log.WithError(err).Warn("recognizer close failed")
		}
		h.streamWG.Wait()
	}

	h.mu.Lock()
	session := h.session
	sessionID := session.SessionID
	h.mu.Unlock()

	h.closeBatchWindow(ctx, sessionID)

	ended, ok := h.timeline.EndSession(h.clientID)
	if !ok {
		return
	}

	h.mu.Lock()
	finals := h.finals
	batches := h.batches
	passage := h.passage
	h.mu.Unlock()

	summarizer := analysis.NewSessionAnalyzer(h.scorer)
	summary := summarizer.Summarize(ctx, sessionID, ended.StartTime, *ended.EndTime, finals, batches, passage)

	if err := h.pipeline.PersistSummary(ctx, summary, h.owner()); err != nil {
		h.log.WithError(err).Warn("summary not persisted")
	}
	if err := h.pipeline.PersistSession(ended); err != nil {
		h.log.WithError(err).Warn("final session metadata not queued")
	}
	if err := h.pipeline.Flush(ctx); err != nil {
		h.log.WithError(err).Warn("end-of-session flush failed")
	}

	h.send(sessionMetricsEvent{Type: "session_metrics", Metrics: ended.Metrics})
	h.send(sessionSummaryEvent{Type: "session_summary", Summary: summary})
	if snap, ok := h.timeline.Timeline(h.clientID); ok {
		h.send(sessionTimelineEvent{Type: "session_timeline", Timeline: snap})
	}
	h.log.WithField("session", sessionID).Info("session finalized")
}

// shutdown finalizes an abandoned session when the socket drops without
// a sessionEnd, then releases the recognizer.
func (h *Handler) shutdown(ctx context.Context) {
	h.mu.Lock()
	active := h.session != nil && !h.ended
	h.mu.Unlock()
	if active {
		h.handleSessionEnd(ctx)
	}

	h.mu.Lock()
	stream := h.stream
	h.stream = nil
	h.mu.Unlock()
	if stream != nil {
		stream.Close()
		h.streamWG.Wait()
	}
	h.conn.Close()
}

func (h *Handler) send(event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Error("event marshal failed")
		return
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.WithError(err).Warn("event not delivered")
	}
}

func (h *Handler) sendError(msg string) {
	h.send(errorEvent{Type: "error", Message: msg})
}
