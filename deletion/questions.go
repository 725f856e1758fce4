package deletion

import (
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Verdict classifies the current answer to one security question.
type Verdict int

const (
	Neutral Verdict = iota
	Correct
	Incorrect
)

func (v Verdict) String() string {
	switch v {
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	default:
		return "neutral"
	}
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// Question is one security question. An answer is correct when, after
// normalisation, it contains any of the accepted answers.
type Question struct {
	ID     string   `json:"id"`
	Prompt string   `json:"prompt"`
	Accept []string `json:"accept"`
}

// Validate is a pure predicate over free text: case, whitespace,
// punctuation and diacritics are ignored.
func (q Question) Validate(answer string) bool {
	given := normalize(answer)
	if given == "" {
		return false
	}
	for _, accepted := range q.Accept {
		want := normalize(accepted)
		if want != "" && strings.Contains(given, want) {
			return true
		}
	}
	return false
}

func (q Question) Classify(answer string) Verdict {
	if strings.TrimSpace(answer) == "" {
		return Neutral
	}
	if q.Validate(answer) {
		return Correct
	}
	return Incorrect
}

// AllAnswersCorrect is true iff every question validates its answer.
func AllAnswersCorrect(questions []Question, answers map[string]string) bool {
	if len(questions) == 0 {
		return false
	}
	for _, q := range questions {
		if !q.Validate(answers[q.ID]) {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	// transformers keep state, so a fresh chain per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, folded)
}
