package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bookmark-reading/Lon03/model"
)

func batch(words int, miscues model.MiscueCounts, accuracy *float64) *model.BatchMetrics {
	return &model.BatchMetrics{
		BatchID:            uuid.New(),
		WordCount:          words,
		Miscues:            miscues,
		AccuracyPercentage: accuracy,
		AverageConfidence:  0.9,
	}
}

func TestSummarizeAggregatesBatches(t *testing.T) {
	t.Parallel()
	a := NewSessionAnalyzer(nil)
	start := time.Now()
	end := start.Add(2 * time.Minute)

	batches := []*model.BatchMetrics{
		batch(100, model.MiscueCounts{Omissions: 3}, floatPtr(90)),
		batch(100, model.MiscueCounts{Omissions: 2, Substitutions: 1}, floatPtr(70)),
	}
	s := a.Summarize(context.Background(), uuid.New(), start, end, []string{"first part", "second part"}, batches, "")

	if s.TotalWords != 200 {
		t.Errorf("TotalWords = %d, want 200", s.TotalWords)
	}
	if s.TotalMiscues.Omissions != 5 || s.TotalMiscues.Substitutions != 1 {
		t.Errorf("TotalMiscues = %+v", s.TotalMiscues)
	}
	if s.AverageWPM != 100 {
		t.Errorf("AverageWPM = %g, want 100", s.AverageWPM)
	}
	if s.OverallAccuracy == nil || *s.OverallAccuracy != 80 {
		t.Errorf("OverallAccuracy = %v, want 80", s.OverallAccuracy)
	}
	if s.BatchCount != 2 {
		t.Errorf("BatchCount = %d", s.BatchCount)
	}
	if s.FullTranscript != "first part second part" {
		t.Errorf("FullTranscript = %q", s.FullTranscript)
	}
}

func TestSummarizeNoBatchesFallsBackToWordSplit(t *testing.T) {
	t.Parallel()
	a := NewSessionAnalyzer(nil)
	start := time.Now()

	s := a.Summarize(context.Background(), uuid.New(), start, start.Add(time.Minute), []string{"one two three four"}, nil, "")
	if s.TotalWords != 4 {
		t.Errorf("TotalWords = %d, want 4", s.TotalWords)
	}
	if s.AverageWPM != 4 {
		t.Errorf("AverageWPM = %g, want 4", s.AverageWPM)
	}
}

func TestSummarizeZeroDuration(t *testing.T) {
	t.Parallel()
	a := NewSessionAnalyzer(nil)
	now := time.Now()
	s := a.Summarize(context.Background(), uuid.New(), now, now, []string{"some words"}, nil, "")
	if s.AverageWPM != 0 {
		t.Errorf("AverageWPM = %g, want 0 for zero duration", s.AverageWPM)
	}
}

func TestSummarizeInsightsBuckets(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		wpm       float64
		wantSpeed string
		accuracy  float64
		wantLevel string
	}{
		{"slow inaccurate", 45, "below_grade_level", 80, "needs_improvement"},
		{"on level good", 100, "on_grade_level", 90, "good"},
		{"fast excellent", 200, "above_grade_level", 97, "excellent"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewSessionAnalyzer(nil)
			start := time.Now()
			end := start.Add(time.Minute)
			batches := []*model.BatchMetrics{batch(int(tt.wpm), model.MiscueCounts{}, floatPtr(tt.accuracy))}

			s := a.Summarize(context.Background(), uuid.New(), start, end, nil, batches, "")
			if got := s.Insights["reading_speed"]; got != tt.wantSpeed {
				t.Errorf("reading_speed = %v, want %s", got, tt.wantSpeed)
			}
			if got := s.Insights["accuracy_level"]; got != tt.wantLevel {
				t.Errorf("accuracy_level = %v, want %s", got, tt.wantLevel)
			}
		})
	}
}

func TestSummarizeDominantMiscueAndSelfCorrection(t *testing.T) {
	t.Parallel()
	a := NewSessionAnalyzer(nil)
	start := time.Now()
	batches := []*model.BatchMetrics{
		batch(100, model.MiscueCounts{Substitutions: 4, Omissions: 1, SelfCorrections: 2}, nil),
	}

	s := a.Summarize(context.Background(), uuid.New(), start, start.Add(time.Minute), nil, batches, "")
	if got := s.Insights["dominant_miscue"]; got != "substitution" {
		t.Errorf("dominant_miscue = %v", got)
	}
	if s.Insights["recommendation"] == nil {
		t.Error("no recommendation for dominant miscue")
	}
	if got := s.Insights["self_correction_rate"]; got != 2.0 {
		t.Errorf("self_correction_rate = %v, want 2", got)
	}
	if s.Insights["self_monitoring"] == nil {
		t.Error("no self-monitoring note")
	}
	if got := s.Insights["total_miscues"]; got != 7 {
		t.Errorf("total_miscues = %v, want 7", got)
	}
	if got := s.Insights["miscue_rate"]; got != 7.0 {
		t.Errorf("miscue_rate = %v, want 7", got)
	}
}

func TestSummarizePrefersFullTranscriptAccuracy(t *testing.T) {
	t.Parallel()
	scorer := &fakeScorer{report: model.ScorerReport{AccuracyPercentage: floatPtr(92)}}
	a := NewSessionAnalyzer(scorer)
	start := time.Now()
	batches := []*model.BatchMetrics{batch(50, model.MiscueCounts{}, floatPtr(60))}

	s := a.Summarize(context.Background(), uuid.New(), start, start.Add(time.Minute), []string{"the cat sat"}, batches, "the cat sat")
	if len(scorer.passages) != 1 {
		t.Fatal("full-transcript pass not performed")
	}
	if s.OverallAccuracy == nil || *s.OverallAccuracy != 92 {
		t.Errorf("OverallAccuracy = %v, want 92", s.OverallAccuracy)
	}
}

func TestSummarizeBestEffortOnScorerFailure(t *testing.T) {
	t.Parallel()
	scorer := &fakeScorer{err: errors.New("scorer down")}
	a := NewSessionAnalyzer(scorer)
	start := time.Now()

	s := a.Summarize(context.Background(), uuid.New(), start, start.Add(time.Minute), []string{"still counted words"}, nil, "a passage")
	if s == nil {
		t.Fatal("no summary returned")
	}
	if s.TotalWords != 3 {
		t.Errorf("TotalWords = %d, want 3", s.TotalWords)
	}
	if s.Insights["error"] == nil {
		t.Error("scorer failure not recorded in insights")
	}
}
