// Package miscue detects reading miscues by aligning the expected passage
// against the words actually spoken. It is the local fallback used when
// the scorer collaborator is unavailable or reports no alignment.
package miscue

import (
	"regexp"
	"strings"

	"github.com/bookmark-reading/Lon03/model"
)

var (
	speakerLabelRe = regexp.MustCompile(`(?i)(Reader|Tutor|Agent):\s*`)
	wordRe         = regexp.MustCompile(`\b\w+\b`)

	hesitationRes = []*regexp.Regexp{
		regexp.MustCompile(`\.\.\.`),
		regexp.MustCompile(`(?i)\bum\b`),
		regexp.MustCompile(`(?i)\buh\b`),
		regexp.MustCompile(`(?i)\ber\b`),
		regexp.MustCompile(`(?i)\bahh?\b`),
		regexp.MustCompile(`(?i)\(pause\)`),
		regexp.MustCompile(`(?i)\(long pause\)`),
	}
)

// Tokenize splits text into words, dropping punctuation and any
// Reader:/Tutor:/Agent: speaker labels.
func Tokenize(text string) []string {
	text = speakerLabelRe.ReplaceAllString(text, "")
	return wordRe.FindAllString(text, -1)
}

// Op is one step of the alignment edit script.
type Op struct {
	Type         model.MiscueType // zero value means "match"
	ExpectedWord string
	ActualWord   string
	Position     int // index into the passage word sequence
}

const opMatch model.MiscueType = ""

// Align produces an edit script between the expected passage words and the
// spoken words: matched runs, one-to-one substitutions, omissions for
// passage words with no counterpart, insertions for extra spoken words.
// Comparison is case-insensitive.
func Align(passageWords, spokenWords []string) []Op {
	n, m := len(passageWords), len(spokenWords)

	// Longest-common-subsequence table over lowercased words.
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if strings.EqualFold(passageWords[i], spokenWords[j]) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []Op
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case strings.EqualFold(passageWords[i], spokenWords[j]):
			ops = append(ops, Op{Type: opMatch, ExpectedWord: passageWords[i], ActualWord: spokenWords[j], Position: i})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			// Passage word has no counterpart. Pair it with the spoken
			// word as a substitution when the spoken word is also
			// unmatched, otherwise record an omission.
			if lcs[i+1][j+1] == lcs[i+1][j] && lcs[i+1][j+1] == lcs[i][j+1] {
				ops = append(ops, Op{Type: model.MiscueSubstitution, ExpectedWord: passageWords[i], ActualWord: spokenWords[j], Position: i})
				i++
				j++
			} else {
				ops = append(ops, Op{Type: model.MiscueOmission, ExpectedWord: passageWords[i], Position: i})
				i++
			}
		default:
			ops = append(ops, Op{Type: model.MiscueInsertion, ActualWord: spokenWords[j], Position: i})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, Op{Type: model.MiscueOmission, ExpectedWord: passageWords[i], Position: i})
	}
	for ; j < m; j++ {
		ops = append(ops, Op{Type: model.MiscueInsertion, ActualWord: spokenWords[j], Position: n})
	}
	return ops
}

// DetectRepetitions returns the indices of spoken words immediately
// followed by an identical word (case-insensitive).
func DetectRepetitions(words []string) []int {
	var idx []int
	for i := 0; i+1 < len(words); i++ {
		if strings.EqualFold(words[i], words[i+1]) {
			idx = append(idx, i)
		}
	}
	return idx
}

// DetectHesitations returns every hesitation marker found in the raw
// transcript text (fillers, ellipses, annotated pauses).
func DetectHesitations(transcript string) []string {
	var found []string
	for _, re := range hesitationRes {
		found = append(found, re.FindAllString(transcript, -1)...)
	}
	return found
}

// Accuracy computes reading accuracy as a percentage, clamped to [0,100].
// Self-corrections do not count as errors.
func Accuracy(totalWords, omissions, substitutions, interventions int) float64 {
	if totalWords == 0 {
		return 0
	}
	errors := omissions + substitutions + interventions
	correct := totalWords - errors
	if correct < 0 {
		correct = 0
	}
	pct := float64(correct) / float64(totalWords) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// WPM computes words per minute over a duration in seconds.
func WPM(wordCount int, durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	return float64(wordCount) / (durationSeconds / 60)
}

// Result is the outcome of a local transcript analysis.
type Result struct {
	Counts model.MiscueCounts
	Events []model.MiscueEvent
	// TotalWords is the passage word count when a passage was supplied,
	// otherwise the spoken word count.
	TotalWords int
	Accuracy   *float64
}

// Analyze runs the full local detection pass. Passage may be empty, in
// which case only repetition and hesitation detection apply.
func Analyze(passage, transcript string) Result {
	spoken := Tokenize(transcript)

	var res Result
	res.TotalWords = len(spoken)

	if passage != "" {
		passageWords := Tokenize(passage)
		res.TotalWords = len(passageWords)
		for _, op := range Align(passageWords, spoken) {
			switch op.Type {
			case model.MiscueOmission:
				res.Counts.Omissions++
			case model.MiscueInsertion:
				res.Counts.Insertions++
			case model.MiscueSubstitution:
				res.Counts.Substitutions++
			default:
				continue
			}
			res.Events = append(res.Events, model.MiscueEvent{
				Type:         op.Type,
				ExpectedWord: op.ExpectedWord,
				ActualWord:   op.ActualWord,
				Position:     op.Position,
			})
		}
		acc := Accuracy(res.TotalWords, res.Counts.Omissions, res.Counts.Substitutions, 0)
		res.Accuracy = &acc
	}

	// Repetitions are flagged independently of the alignment.
	for _, i := range DetectRepetitions(spoken) {
		res.Counts.Repetitions++
		res.Events = append(res.Events, model.MiscueEvent{
			Type:       model.MiscueRepetition,
			ActualWord: spoken[i],
			Position:   i,
		})
	}
	for _, marker := range DetectHesitations(transcript) {
		res.Counts.Hesitations++
		res.Events = append(res.Events, model.MiscueEvent{
			Type:       model.MiscueHesitation,
			ActualWord: marker,
		})
	}
	return res
}
