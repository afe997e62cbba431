package scorer

import (
	"errors"
	"testing"

	"github.com/bookmark-reading/Lon03/model"
)

const fencedReport = "```json\n" + `{
  "kpis": {
    "total_words": 20,
    "word_count": 18,
    "omissions": 2,
    "insertions": 1,
    "substitutions": 1,
    "repetitions": 0,
    "self_corrections": 1,
    "hesitations": 2,
    "accuracy_percentage": 85.0,
    "fluency_score": 70,
    "estimated_wpm": 95
  },
  "miscues": [
    {"miscue_type": "omission", "expected_word": "cat", "position": 3},
    {"miscue_type": "substitution", "expected_word": "mat", "actual_word": "hat", "position": 7}
  ]
}` + "\n```"

func TestParseReportFenced(t *testing.T) {
	t.Parallel()

	rep, err := parseReport(fencedReport)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rep.TotalWords != 20 || rep.WordCount != 18 {
		t.Fatalf("unexpected word counts: %+v", rep)
	}
	if rep.Miscues.Omissions != 2 || rep.Miscues.Substitutions != 1 {
		t.Fatalf("unexpected counters: %+v", rep.Miscues)
	}
	if rep.AccuracyPercentage == nil || *rep.AccuracyPercentage != 85 {
		t.Fatalf("unexpected accuracy: %v", rep.AccuracyPercentage)
	}
	if len(rep.MiscueEvents) != 2 {
		t.Fatalf("expected 2 miscue events, got %d", len(rep.MiscueEvents))
	}
	if rep.MiscueEvents[1].Type != model.MiscueSubstitution || rep.MiscueEvents[1].ActualWord != "hat" {
		t.Fatalf("unexpected event: %+v", rep.MiscueEvents[1])
	}
}

func TestParseReportBareJSON(t *testing.T) {
	t.Parallel()

	rep, err := parseReport(`{"kpis": {"word_count": 5, "repetitions": 1}, "miscues": []}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rep.WordCount != 5 || rep.Miscues.Repetitions != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.AccuracyPercentage != nil {
		t.Fatal("accuracy should be absent")
	}
}

func TestParseReportRejectsProse(t *testing.T) {
	t.Parallel()

	cases := []string{
		"The student read well, accuracy around 90%.",
		"Here is the analysis: {\"kpis\": {}}",
		"```json\n{\"kpis\": {}",
		"```json\n{\"kpis\": {}}",
	}
	for _, raw := range cases {
		if _, err := parseReport(raw); !errors.Is(err, ErrScorer) {
			t.Fatalf("expected ErrScorer for %q, got %v", raw, err)
		}
	}
}

func TestParseReportRejectsUnknownMiscueType(t *testing.T) {
	t.Parallel()

	raw := `{"kpis": {}, "miscues": [{"miscue_type": "mispronunciation"}]}`
	if _, err := parseReport(raw); !errors.Is(err, ErrScorer) {
		t.Fatalf("expected ErrScorer, got %v", err)
	}
}

func TestParseHelpDecision(t *testing.T) {
	t.Parallel()

	dec, err := parseHelpDecision(`{"needs_help": true, "help_message": "Try sounding it out!", "confidence": 0.9, "reason": "asked for help"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !dec.NeedsHelp || dec.HelpMessage == "" || dec.Confidence != 0.9 {
		t.Fatalf("unexpected decision: %+v", dec)
	}
}

func TestParseHelpDecisionRejectsInconsistent(t *testing.T) {
	t.Parallel()

	_, err := parseHelpDecision(`{"needs_help": true, "help_message": "", "confidence": 0.5, "reason": "x"}`)
	if !errors.Is(err, ErrScorer) {
		t.Fatalf("expected ErrScorer, got %v", err)
	}
}
