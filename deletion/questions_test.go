package deletion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuestionValidate(t *testing.T) {
	q := Question{ID: "city", Prompt: "Home town?", Accept: []string{"São Paulo", "bareilly"}}

	cases := map[string]bool{
		"sao paulo":            true,
		"SÃO-PAULO":            true,
		"I grew up in Bareilly": true,
		"  bareilly.  ":        true,
		"delhi":                false,
		"":                     false,
		"!!!":                  false,
	}
	for answer, want := range cases {
		require.Equal(t, want, q.Validate(answer), "answer %q", answer)
	}
}

func TestQuestionClassify(t *testing.T) {
	q := Question{ID: "wood", Accept: []string{"nalli"}}
	require.Equal(t, Neutral, q.Classify(""))
	require.Equal(t, Neutral, q.Classify("   "))
	require.Equal(t, Correct, q.Classify("Nalli"))
	require.Equal(t, Incorrect, q.Classify("teak"))
}

func TestAllAnswersCorrect(t *testing.T) {
	require.False(t, AllAnswersCorrect(nil, map[string]string{"x": "y"}))
	require.False(t, AllAnswersCorrect(testQuestions, nil))
	require.False(t, AllAnswersCorrect(testQuestions, map[string]string{"village": "pilibhit"}))
	require.True(t, AllAnswersCorrect(testQuestions, correctAnswers))
}

func TestSnapshotJSON(t *testing.T) {
	snap := Snapshot{
		State:     StateQuestions,
		OTPStep:   OTPVerified,
		Target:    "a.png",
		Reasons:   []string{"Other"},
		Questions: []QuestionView{{ID: "q", Prompt: "?", Verdict: Correct}},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "questions", decoded["state"])
	require.Equal(t, "verified", decoded["otp_step"])
	require.Equal(t, "correct", decoded["questions"].([]any)[0].(map[string]any)["verdict"])
	require.NotContains(t, decoded, "error")
}
