package model

import (
	"time"

	"github.com/google/uuid"
)

// MiscueType classifies a deviation between the expected passage and the
// words actually spoken.
type MiscueType string

const (
	MiscueOmission       MiscueType = "omission"
	MiscueInsertion      MiscueType = "insertion"
	MiscueSubstitution   MiscueType = "substitution"
	MiscueRepetition     MiscueType = "repetition"
	MiscueSelfCorrection MiscueType = "self_correction"
	MiscueHesitation     MiscueType = "hesitation"
)

// MiscueEvent is a single detected miscue. Expected/actual words and the
// passage position are present only when the alignment produced them.
type MiscueEvent struct {
	Type         MiscueType `json:"miscue_type"`
	ExpectedWord string     `json:"expected_word,omitempty"`
	ActualWord   string     `json:"actual_word,omitempty"`
	Position     int        `json:"position,omitempty"`
	TimestampMS  int64      `json:"timestamp_ms,omitempty"`
}

// MiscueCounts groups the six miscue counters.
type MiscueCounts struct {
	Omissions       int `json:"omissions"`
	Insertions      int `json:"insertions"`
	Substitutions   int `json:"substitutions"`
	Repetitions     int `json:"repetitions"`
	SelfCorrections int `json:"self_corrections"`
	Hesitations     int `json:"hesitations"`
}

// Total sums all six counters.
func (m MiscueCounts) Total() int {
	return m.Omissions + m.Insertions + m.Substitutions +
		m.Repetitions + m.SelfCorrections + m.Hesitations
}

// Add accumulates another set of counts into m.
func (m *MiscueCounts) Add(o MiscueCounts) {
	m.Omissions += o.Omissions
	m.Insertions += o.Insertions
	m.Substitutions += o.Substitutions
	m.Repetitions += o.Repetitions
	m.SelfCorrections += o.SelfCorrections
	m.Hesitations += o.Hesitations
}

// BatchMetrics is the analysis result for one closed accumulation window.
// Immutable after creation; ordered by StartTime within a session.
type BatchMetrics struct {
	BatchID            uuid.UUID     `json:"batch_id"`
	SessionID          uuid.UUID     `json:"session_id"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            time.Time     `json:"end_time"`
	Transcriptions     []string      `json:"transcriptions"`
	WordCount          int           `json:"word_count"`
	WordsPerMinute     float64       `json:"words_per_minute"`
	AverageConfidence  float64       `json:"average_confidence"`
	Miscues            MiscueCounts  `json:"miscue_counts"`
	MiscueEvents       []MiscueEvent `json:"miscue_events"`
	ExpectedText       string        `json:"expected_text,omitempty"`
	AccuracyPercentage *float64      `json:"accuracy_percentage,omitempty"`
}

// DurationSeconds is the span of the window.
func (b *BatchMetrics) DurationSeconds() float64 {
	return b.EndTime.Sub(b.StartTime).Seconds()
}

// SessionSummary is the end-of-session aggregate across all batch windows.
// Created exactly once, at session end.
type SessionSummary struct {
	SessionID           uuid.UUID              `json:"session_id"`
	StartTime           time.Time              `json:"start_time"`
	EndTime             time.Time              `json:"end_time"`
	TotalWords          int                    `json:"total_words"`
	TotalReadingMinutes float64                `json:"total_duration_minutes"`
	AverageWPM          float64                `json:"average_wpm"`
	OverallAccuracy     *float64               `json:"overall_accuracy,omitempty"`
	AverageConfidence   float64                `json:"average_confidence"`
	TotalMiscues        MiscueCounts           `json:"total_miscue_counts"`
	AllMiscueEvents     []MiscueEvent          `json:"all_miscue_events"`
	BatchMetrics        []*BatchMetrics        `json:"-"`
	BatchCount          int                    `json:"batch_metrics_count"`
	FullTranscript      string                 `json:"full_transcript"`
	ExpectedPassage     string                 `json:"expected_passage,omitempty"`
	Insights            map[string]interface{} `json:"insights"`
}

// ScorerReport is the structured output contract for the scorer
// collaborator. Fields the scorer does not report stay at their zero
// value; pointer fields distinguish "absent" from zero.
type ScorerReport struct {
	TotalWords         int           `json:"total_words"`
	WordCount          int           `json:"word_count"`
	Miscues            MiscueCounts  `json:"-"`
	MiscueEvents       []MiscueEvent `json:"-"`
	AccuracyPercentage *float64      `json:"accuracy_percentage"`
	EstimatedWPM       *float64      `json:"estimated_wpm"`
	FluencyScore       *float64      `json:"fluency_score"`
}

// HelpDecision is the scorer's real-time judgement on whether the reader
// needs an intervention right now.
type HelpDecision struct {
	NeedsHelp   bool    `json:"needs_help"`
	HelpMessage string  `json:"help_message"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}
