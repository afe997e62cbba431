// Package analysis turns accumulated transcripts into per-window batch
// metrics and, at session end, a whole-session summary with derived
// insights.
package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bookmark-reading/Lon03/miscue"
	"github.com/bookmark-reading/Lon03/model"
)

// Scorer is the language-model collaborator that grades transcripts.
type Scorer interface {
	Analyze(ctx context.Context, transcript string) (model.ScorerReport, error)
	AnalyzeAgainstPassage(ctx context.Context, transcript, passage string) (model.ScorerReport, error)
}

type bufferedTranscript struct {
	text       string
	timestamp  time.Time
	confidence float64
}

// BatchAnalyzer accumulates one session's transcripts into a timed window
// and scores the window when it closes. One analyzer per session; callers
// drive it from the session's single handler task, so no locking.
type BatchAnalyzer struct {
	scorer          Scorer
	interval        time.Duration
	expectedPassage string
	log             *logrus.Entry

	buffer      []bufferedTranscript
	windowStart time.Time
}

// NewBatchAnalyzer builds an analyzer with the given accumulation window.
// expectedPassage may be empty, disabling reference comparison.
func NewBatchAnalyzer(s Scorer, interval time.Duration, expectedPassage string) *BatchAnalyzer {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &BatchAnalyzer{
		scorer:          s,
		interval:        interval,
		expectedPassage: expectedPassage,
		log:             logrus.WithField("component", "batch_analyzer"),
	}
}

// AddTranscription appends text to the current window. The first text of
// an empty window sets the window start.
func (b *BatchAnalyzer) AddTranscription(text string, timestamp time.Time, confidence float64) {
	if len(b.buffer) == 0 {
		b.windowStart = timestamp
	}
	b.buffer = append(b.buffer, bufferedTranscript{text: text, timestamp: timestamp, confidence: confidence})
}

// ShouldClose reports whether the window is non-empty and has been open
// at least the configured interval.
func (b *BatchAnalyzer) ShouldClose(now time.Time) bool {
	return len(b.buffer) > 0 && now.Sub(b.windowStart) >= b.interval
}

// Pending reports whether the window holds any unscored transcripts.
func (b *BatchAnalyzer) Pending() bool {
	return len(b.buffer) > 0
}

// CloseWindow scores the buffered transcripts and returns the window's
// metrics. An empty window returns nil with no error. When the scorer
// fails the window is dropped: the buffer is cleared, the failure is
// logged and returned, and no metrics are emitted. A dropped window never
// blocks subsequent windows.
func (b *BatchAnalyzer) CloseWindow(ctx context.Context, sessionID uuid.UUID) (*model.BatchMetrics, error) {
	if len(b.buffer) == 0 {
		return nil, nil
	}

	texts := make([]string, len(b.buffer))
	var confSum float64
	for i, t := range b.buffer {
		texts[i] = t.text
		confSum += t.confidence
	}
	combined := strings.Join(texts, " ")
	avgConfidence := confSum / float64(len(b.buffer))
	windowStart := b.windowStart
	b.buffer = nil

	var (
		report model.ScorerReport
		err    error
	)
	if b.expectedPassage != "" {
		report, err = b.scorer.AnalyzeAgainstPassage(ctx, combined, b.expectedPassage)
	} else {
		report, err = b.scorer.Analyze(ctx, combined)
	}
	if err != nil {
		b.log.WithError(err).WithField("session", sessionID).Warn("window dropped: scorer failed")
		return nil, err
	}

	now := time.Now()
	metrics := &model.BatchMetrics{
		BatchID:           uuid.New(),
		SessionID:         sessionID,
		StartTime:         windowStart,
		EndTime:           now,
		Transcriptions:    texts,
		AverageConfidence: avgConfidence,
		Miscues:           report.Miscues,
		MiscueEvents:      report.MiscueEvents,
		ExpectedText:      b.expectedPassage,
	}

	metrics.WordCount = report.WordCount
	if metrics.WordCount == 0 {
		metrics.WordCount = report.TotalWords
	}
	if metrics.WordCount == 0 {
		metrics.WordCount = len(strings.Fields(combined))
	}
	metrics.WordsPerMinute = miscue.WPM(metrics.WordCount, metrics.DurationSeconds())
	metrics.AccuracyPercentage = report.AccuracyPercentage

	// A report with no alignment at all falls back to local detection.
	if report.Miscues.Total() == 0 && len(report.MiscueEvents) == 0 {
		local := miscue.Analyze(b.expectedPassage, combined)
		metrics.Miscues = local.Counts
		metrics.MiscueEvents = local.Events
		if metrics.AccuracyPercentage == nil {
			metrics.AccuracyPercentage = local.Accuracy
		}
	}

	b.log.WithFields(logrus.Fields{
		"session": sessionID,
		"words":   metrics.WordCount,
		"wpm":     metrics.WordsPerMinute,
		"miscues": metrics.Miscues.Total(),
	}).Info("window closed")
	return metrics, nil
}
