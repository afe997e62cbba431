package timeline

import (
	"strings"

	"github.com/bookmark-reading/Lon03/model"
)

// ChunkInfo is the wire-friendly view of one chunk on the timeline. Raw
// audio bytes are never included.
type ChunkInfo struct {
	SequenceNumber  int   `json:"sequence_number"`
	SessionOffsetMS int64 `json:"session_offset_ms"`
	DurationMS      int64 `json:"duration_ms"`
	SizeBytes       int   `json:"size_bytes"`
}

// TranscriptionInfo is the wire-friendly view of one transcription.
type TranscriptionInfo struct {
	Text            string  `json:"text"`
	SessionOffsetMS int64   `json:"session_offset_ms"`
	Confidence      float64 `json:"confidence"`
}

// Snapshot is a point-in-time serialization of a session's timeline,
// sent to the client on request and when the session ends.
type Snapshot struct {
	SessionID       string               `json:"session_id"`
	ClientID        string               `json:"client_id"`
	Active          bool                 `json:"active"`
	TotalDurationMS int64                `json:"total_duration_ms"`
	ChunkCount      int                  `json:"chunk_count"`
	Chunks          []ChunkInfo          `json:"chunks"`
	Transcriptions  []TranscriptionInfo  `json:"transcriptions"`
	Metrics         model.SessionMetrics `json:"metrics"`
}

// Timeline builds a snapshot of the client's session. The second return
// is false when the client has no session at all.
func (s *Store) Timeline(clientID string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[clientID]
	if !ok {
		return nil, false
	}
	session := st.session

	snap := &Snapshot{
		SessionID:       session.SessionID.String(),
		ClientID:        session.ClientID,
		Active:          session.Active(),
		TotalDurationMS: session.AudioDurationMS(),
		ChunkCount:      len(session.AudioChunks),
		Chunks:          make([]ChunkInfo, 0, len(session.AudioChunks)),
		Transcriptions:  make([]TranscriptionInfo, 0, len(session.Transcriptions)),
		Metrics:         session.Metrics,
	}
	for _, c := range session.AudioChunks {
		snap.Chunks = append(snap.Chunks, ChunkInfo{
			SequenceNumber:  c.SequenceNumber,
			SessionOffsetMS: c.SessionOffsetMS,
			DurationMS:      c.DurationMS,
			SizeBytes:       c.SizeBytes,
		})
	}
	for _, t := range session.Transcriptions {
		snap.Transcriptions = append(snap.Transcriptions, TranscriptionInfo{
			Text:            t.Text,
			SessionOffsetMS: t.SessionOffsetMS,
			Confidence:      t.Confidence,
		})
	}
	return snap, true
}

func splitWords(text string) []string {
	return strings.Fields(text)
}
