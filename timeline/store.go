// Package timeline is the authoritative in-memory record of each
// client's reading session: ordered audio chunks, transcriptions and
// help events, plus running metrics. Operations here are synchronous and
// perform no I/O so they never stall the real-time ingestion path.
package timeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bookmark-reading/Lon03/audio"
	"github.com/bookmark-reading/Lon03/model"
)

// ErrDuplicateSession is returned when a client that already has an
// active session asks for another one. Callers must end the prior
// session first.
var ErrDuplicateSession = errors.New("client already has an active session")

// ErrSessionNotFound is returned by append operations on unknown
// clients. Query operations return empty results instead.
var ErrSessionNotFound = errors.New("no session for client")

// sessionState pairs a session with its single-writer counters. The
// running offset makes chunk placement O(1) instead of a scan.
type sessionState struct {
	session       *model.ReadingSession
	nextSequence  int
	runningOffset int64
}

// Store maps client ids to their reading sessions. The map itself is
// guarded because eviction and session creation run on different
// goroutines; all mutations of one session's collections happen from the
// single task handling that client.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	log      *logrus.Entry
}

// NewStore creates an empty timeline store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*sessionState),
		log:      logrus.WithField("component", "timeline"),
	}
}

// CreateSession allocates a new session for the client. studentID may
// be empty when the client did not announce one. It fails with
// ErrDuplicateSession while a previous session is still active; an ended
// session is replaced.
func (s *Store) CreateSession(clientID, studentID string) (*model.ReadingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.sessions[clientID]; ok && st.session.Active() {
		return nil, errors.Wrap(ErrDuplicateSession, clientID)
	}

	session := &model.ReadingSession{
		SessionID: uuid.New(),
		ClientID:  clientID,
		StudentID: studentID,
		StartTime: time.Now(),
	}
	s.sessions[clientID] = &sessionState{session: session}
	s.log.WithFields(logrus.Fields{
		"client":  clientID,
		"session": session.SessionID,
	}).Info("session created")
	return session, nil
}

// Session returns the client's session, if any.
func (s *Store) Session(clientID string) (*model.ReadingSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[clientID]
	if !ok {
		return nil, false
	}
	return st.session, true
}

// StoreChunk computes the fragment's duration, assigns the next sequence
// number and running offset, and appends it to the client's session. A
// session is created implicitly when none exists. The raw payload is
// retained only when retainPayload is set.
func (s *Store) StoreChunk(clientID string, payload []byte, sampleRate int, encoding string, retainPayload bool) (*model.AudioChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[clientID]
	if !ok || !st.session.Active() {
		session := &model.ReadingSession{
			SessionID: uuid.New(),
			ClientID:  clientID,
			StartTime: time.Now(),
		}
		st = &sessionState{session: session}
		s.sessions[clientID] = st
	}

	durationMS := audio.DurationMS(payload, sampleRate, encoding)

	chunk := &model.AudioChunk{
		ChunkID:           uuid.New(),
		ClientID:          clientID,
		SessionID:         st.session.SessionID,
		SequenceNumber:    st.nextSequence,
		ReceivedTimestamp: time.Now(),
		SessionOffsetMS:   st.runningOffset,
		DurationMS:        durationMS,
		SampleRate:        sampleRate,
		Encoding:          encoding,
		SizeBytes:         len(payload),
	}
	if retainPayload {
		chunk.AudioData = payload
	}

	st.nextSequence++
	st.runningOffset += durationMS
	st.session.AudioChunks = append(st.session.AudioChunks, chunk)
	return chunk, nil
}

// AppendTranscription appends in arrival order. Only final transcripts
// should be appended; no dedup or reordering is performed.
func (s *Store) AppendTranscription(clientID string, t *model.Transcription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[clientID]
	if !ok {
		return errors.Wrap(ErrSessionNotFound, clientID)
	}
	st.session.Transcriptions = append(st.session.Transcriptions, t)
	return nil
}

// AppendHelpEvent records an intervention on the session.
func (s *Store) AppendHelpEvent(clientID string, e *model.HelpEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[clientID]
	if !ok {
		return errors.Wrap(ErrSessionNotFound, clientID)
	}
	st.session.HelpEvents = append(st.session.HelpEvents, e)
	return nil
}

// ChunksInRange returns the chunks whose [offset, offset+duration)
// interval overlaps [startMS, endMS). Unknown clients get an empty
// result. Linear scan; chunk counts per session stay in the low
// thousands.
func (s *Store) ChunksInRange(clientID string, startMS, endMS int64) []*model.AudioChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[clientID]
	if !ok {
		return nil
	}
	var out []*model.AudioChunk
	for _, c := range st.session.AudioChunks {
		if c.SessionOffsetMS < endMS && c.EndMS() > startMS {
			out = append(out, c)
		}
	}
	return out
}

// CurrentSessionTimeMS is the position of the session timeline: the
// summed duration of all chunks received so far.
func (s *Store) CurrentSessionTimeMS(clientID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[clientID]
	if !ok {
		return 0
	}
	return st.runningOffset
}

// EndSession sets the session's end time and recomputes its metrics.
// Ending an already-ended or unknown session is a no-op.
func (s *Store) EndSession(clientID string) (*model.ReadingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[clientID]
	if !ok {
		return nil, false
	}
	if st.session.EndTime == nil {
		now := time.Now()
		st.session.EndTime = &now
		st.session.Metrics = computeMetrics(st.session)
		s.log.WithFields(logrus.Fields{
			"client":  clientID,
			"session": st.session.SessionID,
			"words":   st.session.Metrics.TotalWords,
		}).Info("session ended")
	}
	return st.session, true
}

// RecomputeMetrics refreshes the session's metric snapshot on demand.
func (s *Store) RecomputeMetrics(clientID string) (model.SessionMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[clientID]
	if !ok {
		return model.SessionMetrics{}, false
	}
	st.session.Metrics = computeMetrics(st.session)
	return st.session.Metrics, true
}

// Evict removes sessions that ended more than maxAge ago and frees their
// chunks and transcriptions. Purely an in-memory sweep; it does not
// touch the durable store.
func (s *Store) Evict(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var removed int
	for clientID, st := range s.sessions {
		if st.session.EndTime != nil && st.session.EndTime.Before(cutoff) {
			delete(s.sessions, clientID)
			removed++
		}
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("evicted old sessions")
	}
	return removed
}

// computeMetrics rebuilds the full metric snapshot from the session's
// chunk and transcription lists. Only final transcriptions count.
func computeMetrics(session *model.ReadingSession) model.SessionMetrics {
	var m model.SessionMetrics

	var confidences []float64
	for _, t := range session.Transcriptions {
		if !t.IsFinal {
			continue
		}
		m.TotalWords += len(splitWords(t.Text))
		confidences = append(confidences, t.Confidence)
	}

	readingMS := session.AudioDurationMS()
	m.TotalReadingTimeMS = readingMS
	if readingMS > 0 {
		minutes := float64(readingMS) / 60000
		m.ReadingSpeedWPM = float64(m.TotalWords) / minutes
	}
	if len(confidences) > 0 {
		var sum float64
		for _, c := range confidences {
			sum += c
		}
		m.AverageConfidence = sum / float64(len(confidences))
	}
	m.HelpRequestCount = len(session.HelpEvents)
	return m
}
