// Package model holds the domain entities shared by the timeline,
// analysis and persistence layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// WordTimestamp is word-level timing from the speech recognizer.
// Owned by exactly one Transcription.
type WordTimestamp struct {
	Word        string  `json:"word"`
	StartTimeMS int64   `json:"start_time_ms"`
	EndTimeMS   int64   `json:"end_time_ms"`
	Confidence  float64 `json:"confidence"`
}

// AudioChunk is the metadata for one fragment of raw audio placed on the
// session timeline. The raw payload is kept only when the retention flag
// was set at ingestion; normally it is dropped as soon as the duration has
// been computed.
type AudioChunk struct {
	ChunkID           uuid.UUID `json:"chunk_id"`
	ClientID          string    `json:"client_id"`
	SessionID         uuid.UUID `json:"session_id"`
	SequenceNumber    int       `json:"sequence_number"`
	ReceivedTimestamp time.Time `json:"received_timestamp"`
	SessionOffsetMS   int64     `json:"session_offset_ms"`
	DurationMS        int64     `json:"duration_ms"`
	SampleRate        int       `json:"sample_rate"`
	Encoding          string    `json:"encoding"`
	SizeBytes         int       `json:"size_bytes"`
	AudioData         []byte    `json:"-"`
}

// EndMS returns the exclusive end of the chunk's timeline interval.
func (c *AudioChunk) EndMS() int64 {
	return c.SessionOffsetMS + c.DurationMS
}

// Transcription is one unit of recognized speech with timeline metadata.
// AudioChunkIDs are weak references; the chunks stay owned by the session.
type Transcription struct {
	TranscriptionID uuid.UUID       `json:"transcription_id"`
	SessionID       uuid.UUID       `json:"session_id"`
	AudioChunkIDs   []uuid.UUID     `json:"audio_chunk_ids"`
	Text            string          `json:"text"`
	StartTimeMS     int64           `json:"start_time_ms"`
	EndTimeMS       int64           `json:"end_time_ms"`
	SessionOffsetMS int64           `json:"session_offset_ms"`
	Confidence      float64         `json:"confidence"`
	IsFinal         bool            `json:"is_final"`
	WordTimestamps  []WordTimestamp `json:"word_timestamps"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HelpEvent records one tutoring intervention. Immutable after creation.
type HelpEvent struct {
	EventID               uuid.UUID   `json:"event_id"`
	SessionID             uuid.UUID   `json:"session_id"`
	SessionTimeOffsetMS   int64       `json:"session_time_offset_ms"`
	TriggerTranscriptions []string    `json:"trigger_transcriptions"`
	TriggerTimestamps     []time.Time `json:"trigger_timestamps"`
	AccumulationMS        int64       `json:"accumulation_duration_ms"`
	AudioSegmentIDs       []uuid.UUID `json:"audio_segment_ids"`
	HelpMessage           string      `json:"help_message"`
	AudioResponse         []byte      `json:"audio_response,omitempty"`
	ResponseTimestamp     time.Time   `json:"response_timestamp"`
	Confidence            float64     `json:"confidence"`
	Reason                string      `json:"reason"`
}

// SessionMetrics is the rolling per-session metric snapshot. It is
// recomputed from the full chunk/transcription lists, never updated
// field-by-field.
type SessionMetrics struct {
	TotalWords           int     `json:"total_words"`
	ReadingSpeedWPM      float64 `json:"reading_speed_wpm"`
	PauseCount           int     `json:"pause_count"`
	TotalPauseDurationMS int64   `json:"total_pause_duration_ms"`
	HelpRequestCount     int     `json:"help_request_count"`
	AverageConfidence    float64 `json:"average_confidence"`
	TotalReadingTimeMS   int64   `json:"total_reading_time_ms"`
}

// ReadingSession is one continuous reading attempt by one client.
// The timeline store owns it for its lifetime.
type ReadingSession struct {
	SessionID      uuid.UUID        `json:"session_id"`
	ClientID       string           `json:"client_id"`
	StudentID      string           `json:"student_id,omitempty"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        *time.Time       `json:"end_time,omitempty"`
	AudioChunks    []*AudioChunk    `json:"-"`
	Transcriptions []*Transcription `json:"-"`
	HelpEvents     []*HelpEvent     `json:"-"`
	Metrics        SessionMetrics   `json:"metrics"`
}

// Owner is the identity session records are indexed under: the student
// when one was announced at session start, otherwise the connection's
// client id.
func (s *ReadingSession) Owner() string {
	if s.StudentID != "" {
		return s.StudentID
	}
	return s.ClientID
}

// Active reports whether the session is still running.
func (s *ReadingSession) Active() bool {
	return s.EndTime == nil
}

// TotalDurationMS is the wall-clock span of the session so far.
func (s *ReadingSession) TotalDurationMS(now time.Time) int64 {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return end.Sub(s.StartTime).Milliseconds()
}

// AudioDurationMS is the summed duration of all stored chunks, i.e. the
// current position of the session timeline.
func (s *ReadingSession) AudioDurationMS() int64 {
	var total int64
	for _, c := range s.AudioChunks {
		total += c.DurationMS
	}
	return total
}
