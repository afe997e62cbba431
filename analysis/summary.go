package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bookmark-reading/Lon03/model"
)

var recommendations = map[model.MiscueType]string{
	model.MiscueOmission:       "Practice reading more carefully to avoid skipping words.",
	model.MiscueInsertion:      "Slow down and focus on reading exactly what is written.",
	model.MiscueSubstitution:   "Work on careful word recognition; sound out unfamiliar words.",
	model.MiscueRepetition:     "Build confidence with repeated readings of familiar passages.",
	model.MiscueSelfCorrection: "Keep checking that the reading makes sense.",
	model.MiscueHesitation:     "Practice sight words to build reading fluency.",
}

// SessionAnalyzer builds the end-of-session summary.
type SessionAnalyzer struct {
	scorer Scorer
	log    *logrus.Entry
}

// NewSessionAnalyzer builds a summarizer. scorer may be nil, disabling
// the full-transcript accuracy pass.
func NewSessionAnalyzer(s Scorer) *SessionAnalyzer {
	return &SessionAnalyzer{
		scorer: s,
		log:    logrus.WithField("component", "session_analyzer"),
	}
}

// Summarize aggregates every batch window of a session into one summary.
// It is best-effort: a failed scorer pass is recorded in the insights map
// and never prevents a summary from being returned.
func (a *SessionAnalyzer) Summarize(ctx context.Context, sessionID uuid.UUID, start, end time.Time, transcripts []string, batches []*model.BatchMetrics, expectedPassage string) *model.SessionSummary {
	fullTranscript := strings.Join(transcripts, " ")

	summary := &model.SessionSummary{
		SessionID:       sessionID,
		StartTime:       start,
		EndTime:         end,
		BatchMetrics:    batches,
		BatchCount:      len(batches),
		FullTranscript:  fullTranscript,
		ExpectedPassage: expectedPassage,
		Insights:        map[string]interface{}{},
	}

	var (
		confSum     float64
		accuracySum float64
		accuracyN   int
	)
	for _, b := range batches {
		summary.TotalWords += b.WordCount
		summary.TotalMiscues.Add(b.Miscues)
		summary.AllMiscueEvents = append(summary.AllMiscueEvents, b.MiscueEvents...)
		confSum += b.AverageConfidence
		if b.AccuracyPercentage != nil {
			accuracySum += *b.AccuracyPercentage
			accuracyN++
		}
	}
	if len(batches) == 0 {
		summary.TotalWords = len(strings.Fields(fullTranscript))
	} else {
		summary.AverageConfidence = confSum / float64(len(batches))
	}
	if accuracyN > 0 {
		acc := accuracySum / float64(accuracyN)
		summary.OverallAccuracy = &acc
	}

	summary.TotalReadingMinutes = end.Sub(start).Minutes()
	if summary.TotalReadingMinutes > 0 {
		summary.AverageWPM = float64(summary.TotalWords) / summary.TotalReadingMinutes
	}

	// One whole-transcript pass against the passage; its accuracy figure
	// beats the per-window average when it arrives.
	if expectedPassage != "" && fullTranscript != "" && a.scorer != nil {
		report, err := a.scorer.AnalyzeAgainstPassage(ctx, fullTranscript, expectedPassage)
		if err != nil {
			a.log.WithError(err).WithField("session", sessionID).Warn("full-transcript pass failed")
			summary.Insights["error"] = err.Error()
		} else if report.AccuracyPercentage != nil {
			summary.OverallAccuracy = report.AccuracyPercentage
		}
	}

	a.deriveInsights(summary)
	a.log.WithFields(logrus.Fields{
		"session": sessionID,
		"words":   summary.TotalWords,
		"batches": summary.BatchCount,
	}).Info("session summarized")
	return summary
}

func (a *SessionAnalyzer) deriveInsights(s *model.SessionSummary) {
	in := s.Insights

	switch {
	case s.AverageWPM < 60:
		in["reading_speed"] = "below_grade_level"
	case s.AverageWPM > 150:
		in["reading_speed"] = "above_grade_level"
	default:
		in["reading_speed"] = "on_grade_level"
	}

	if s.OverallAccuracy != nil {
		switch acc := *s.OverallAccuracy; {
		case acc >= 95:
			in["accuracy_level"] = "excellent"
		case acc >= 85:
			in["accuracy_level"] = "good"
		default:
			in["accuracy_level"] = "needs_improvement"
		}
	}

	if dominant, count := dominantMiscue(s.TotalMiscues); count > 0 {
		in["dominant_miscue"] = string(dominant)
		in["recommendation"] = recommendations[dominant]
	}

	if s.TotalMiscues.SelfCorrections > 0 && s.TotalWords > 0 {
		rate := float64(s.TotalMiscues.SelfCorrections) / float64(s.TotalWords) * 100
		in["self_correction_rate"] = rate
		in["self_monitoring"] = "Shows self-monitoring by correcting errors while reading."
	}

	in["total_miscues"] = s.TotalMiscues.Total()
	if s.TotalWords > 0 {
		in["miscue_rate"] = float64(s.TotalMiscues.Total()) / float64(s.TotalWords) * 100
	}
	in["batches_analyzed"] = s.BatchCount
}

func dominantMiscue(c model.MiscueCounts) (model.MiscueType, int) {
	best, bestN := model.MiscueType(""), 0
	for _, entry := range []struct {
		t model.MiscueType
		n int
	}{
		{model.MiscueOmission, c.Omissions},
		{model.MiscueInsertion, c.Insertions},
		{model.MiscueSubstitution, c.Substitutions},
		{model.MiscueRepetition, c.Repetitions},
		{model.MiscueSelfCorrection, c.SelfCorrections},
		{model.MiscueHesitation, c.Hesitations},
	} {
		if entry.n > bestN {
			best, bestN = entry.t, entry.n
		}
	}
	return best, bestN
}
