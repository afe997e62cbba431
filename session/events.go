package session

import (
	"github.com/bookmark-reading/Lon03/model"
	"github.com/bookmark-reading/Lon03/timeline"
)

// Inbound event types.
const (
	eventSessionStart = "sessionStart"
	eventAudioInput   = "audioInput"
	eventSessionEnd   = "sessionEnd"
)

// inboundEvent is the union of everything a client can send. Type
// selects which fields are meaningful.
type inboundEvent struct {
	Type string `json:"type"`

	// sessionStart
	StudentID       string `json:"student_id,omitempty"`
	ExpectedPassage string `json:"expected_passage,omitempty"`

	// audioInput
	Audio      string `json:"audio,omitempty"` // base64 payload
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
}

type sessionStartedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type transcriptionEvent struct {
	Type            string  `json:"type"`
	Text            string  `json:"text"`
	IsFinal         bool    `json:"is_final"`
	Confidence      float64 `json:"confidence"`
	SessionOffsetMS int64   `json:"session_offset_ms"`
}

type helpNeededEvent struct {
	Type       string  `json:"type"`
	Message    string  `json:"message"`
	Audio      string  `json:"audio,omitempty"` // base64 synthesized speech
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

type batchAnalysisEvent struct {
	Type    string              `json:"type"`
	Metrics *model.BatchMetrics `json:"metrics"`
}

type sessionSummaryEvent struct {
	Type    string                `json:"type"`
	Summary *model.SessionSummary `json:"summary"`
}

type sessionTimelineEvent struct {
	Type     string             `json:"type"`
	Timeline *timeline.Snapshot `json:"timeline"`
}

type sessionMetricsEvent struct {
	Type    string               `json:"type"`
	Metrics model.SessionMetrics `json:"metrics"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
