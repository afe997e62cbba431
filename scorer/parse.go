package scorer

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/bookmark-reading/Lon03/model"
)

// reportWire is the strict response schema for transcript analysis.
type reportWire struct {
	KPIs struct {
		TotalWords         int      `json:"total_words"`
		WordCount          int      `json:"word_count"`
		Omissions          int      `json:"omissions"`
		Insertions         int      `json:"insertions"`
		Substitutions      int      `json:"substitutions"`
		Repetitions        int      `json:"repetitions"`
		SelfCorrections    int      `json:"self_corrections"`
		Hesitations        int      `json:"hesitations"`
		AccuracyPercentage *float64 `json:"accuracy_percentage"`
		EstimatedWPM       *float64 `json:"estimated_wpm"`
		FluencyScore       *float64 `json:"fluency_score"`
	} `json:"kpis"`
	Miscues []struct {
		Type         string `json:"miscue_type"`
		ExpectedWord string `json:"expected_word"`
		ActualWord   string `json:"actual_word"`
		Position     int    `json:"position"`
	} `json:"miscues"`
}

// extractJSON strips an optional markdown fence around the reply. The
// remainder must itself be a JSON object; there is no brace-matching
// fallback for prose replies.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		end := strings.Index(s, "```")
		if end < 0 {
			return "", errors.Wrap(ErrScorer, "unterminated code fence")
		}
		s = strings.TrimSpace(s[:end])
	}
	if !strings.HasPrefix(s, "{") {
		return "", errors.Wrap(ErrScorer, "response is not a JSON object")
	}
	return s, nil
}

func parseReport(raw string) (model.ScorerReport, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return model.ScorerReport{}, err
	}
	var wire reportWire
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return model.ScorerReport{}, errors.Wrapf(ErrScorer, "malformed response: %v", err)
	}

	rep := model.ScorerReport{
		TotalWords:         wire.KPIs.TotalWords,
		WordCount:          wire.KPIs.WordCount,
		AccuracyPercentage: wire.KPIs.AccuracyPercentage,
		EstimatedWPM:       wire.KPIs.EstimatedWPM,
		FluencyScore:       wire.KPIs.FluencyScore,
		Miscues: model.MiscueCounts{
			Omissions:       wire.KPIs.Omissions,
			Insertions:      wire.KPIs.Insertions,
			Substitutions:   wire.KPIs.Substitutions,
			Repetitions:     wire.KPIs.Repetitions,
			SelfCorrections: wire.KPIs.SelfCorrections,
			Hesitations:     wire.KPIs.Hesitations,
		},
	}
	for _, m := range wire.Miscues {
		kind, ok := miscueType(m.Type)
		if !ok {
			return model.ScorerReport{}, errors.Wrapf(ErrScorer, "unknown miscue type %q", m.Type)
		}
		rep.MiscueEvents = append(rep.MiscueEvents, model.MiscueEvent{
			Type:         kind,
			ExpectedWord: m.ExpectedWord,
			ActualWord:   m.ActualWord,
			Position:     m.Position,
		})
	}
	return rep, nil
}

func parseHelpDecision(raw string) (model.HelpDecision, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return model.HelpDecision{}, err
	}
	var dec model.HelpDecision
	if err := json.Unmarshal([]byte(body), &dec); err != nil {
		return model.HelpDecision{}, errors.Wrapf(ErrScorer, "malformed help decision: %v", err)
	}
	if dec.NeedsHelp && dec.HelpMessage == "" {
		return model.HelpDecision{}, errors.Wrap(ErrScorer, "needs_help without help_message")
	}
	return dec, nil
}

func miscueType(s string) (model.MiscueType, bool) {
	switch model.MiscueType(s) {
	case model.MiscueOmission, model.MiscueInsertion, model.MiscueSubstitution,
		model.MiscueRepetition, model.MiscueSelfCorrection, model.MiscueHesitation:
		return model.MiscueType(s), true
	default:
		return "", false
	}
}
