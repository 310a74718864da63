package diagnostic

import (
	"fmt"
	"math"
	"testing"

	"github.com/abhisek/curio/internal/store"
)

func fptr(v float64) *float64 { return &v }
func bptr(v bool) *bool       { return &v }

func TestNormalizeScore(t *testing.T) {
	tests := []struct {
		name      string
		score     *float64
		isCorrect *bool
		want      *float64
	}{
		{"percentage scale", fptr(85), nil, fptr(0.85)},
		{"negative clamps to zero", fptr(-0.3), nil, fptr(0)},
		{"null score correct true", nil, bptr(true), fptr(1)},
		{"null score correct false", nil, bptr(false), fptr(0)},
		{"both null is unscored", nil, nil, nil},
		{"unit scale passes through", fptr(0.6), nil, fptr(0.6)},
		{"above percentage cap clamps", fptr(150), nil, fptr(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeScore(tt.score, tt.isCorrect)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Fatalf("got %v, want %v", *got, *tt.want)
			}
		})
	}
}

func TestDeriveCorrect(t *testing.T) {
	if !DeriveCorrect(fptr(0.7), nil) {
		t.Error("0.7 should be correct")
	}
	if DeriveCorrect(fptr(0.69), nil) {
		t.Error("0.69 should be incorrect")
	}
	if DeriveCorrect(fptr(0.9), bptr(false)) {
		t.Error("explicit flag wins over score")
	}
	if DeriveCorrect(nil, nil) {
		t.Error("unscored defaults to incorrect")
	}
}

func makeQuestions(n int) []store.Question {
	out := make([]store.Question, n)
	for i := range out {
		out[i] = store.Question{
			ID:       fmt.Sprintf("q%d", i),
			Position: i,
			Prompt:   fmt.Sprintf("prompt %d", i),
			Format:   store.FormatOpenEnded,
		}
	}
	return out
}

func TestSummarizeBucketsAndOrder(t *testing.T) {
	questions := makeQuestions(4)
	answers := []store.Answer{
		{QuestionID: "q0", FreeText: "a"},
		{QuestionID: "q1", FreeText: "b"},
		{QuestionID: "q2", FreeText: "c"},
		{QuestionID: "q3", FreeText: "   "}, // whitespace only: not answered
	}
	verdicts := []GradedItem{
		{QuestionID: "q2", Score: fptr(0.9)},
		{QuestionID: "q0", Score: fptr(0.4)},
		{QuestionID: "q1", Score: fptr(0.8)},
	}

	s := Summarize(questions, answers, verdicts)
	if s.Total != 4 || s.Answered != 3 {
		t.Errorf("total=%d answered=%d, want 4/3", s.Total, s.Answered)
	}
	if s.OverallScore == nil || math.Abs(*s.OverallScore-0.7) > 1e-9 {
		t.Errorf("overall = %v, want 0.7", s.OverallScore)
	}
	// Buckets keep question order, not verdict or severity order.
	if len(s.Strengths) != 2 || s.Strengths[0].QuestionID != "q1" || s.Strengths[1].QuestionID != "q2" {
		t.Errorf("strengths = %+v", s.Strengths)
	}
	if len(s.Gaps) != 1 || s.Gaps[0].QuestionID != "q0" {
		t.Errorf("gaps = %+v", s.Gaps)
	}
}

func TestSummarizeCaps(t *testing.T) {
	questions := makeQuestions(25)
	var answers []store.Answer
	var verdicts []GradedItem
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("q%d", i)
		answers = append(answers, store.Answer{QuestionID: id, FreeText: "x"})
		score := 0.9
		if i >= 10 {
			score = 0.1
		}
		verdicts = append(verdicts, GradedItem{QuestionID: id, Score: fptr(score)})
	}

	s := Summarize(questions, answers, verdicts)
	if len(s.Strengths) != 8 {
		t.Errorf("strengths = %d, want cap 8", len(s.Strengths))
	}
	if len(s.Gaps) != 10 {
		t.Errorf("gaps = %d, want cap 10", len(s.Gaps))
	}
	// Overall still averages everything, not just bucketed items.
	if s.OverallScore == nil {
		t.Fatal("overall missing")
	}
}

func TestSummarizeNothingScored(t *testing.T) {
	questions := makeQuestions(2)
	s := Summarize(questions, nil, nil)
	if s.OverallScore != nil {
		t.Errorf("overall = %v, want nil", *s.OverallScore)
	}
	if s.Answered != 0 {
		t.Errorf("answered = %d, want 0", s.Answered)
	}
}

func TestIsAnswered(t *testing.T) {
	if IsAnswered(nil) {
		t.Error("nil answer is not answered")
	}
	if IsAnswered(&store.Answer{}) {
		t.Error("empty answer is not answered")
	}
	if IsAnswered(&store.Answer{FreeText: "  \n "}) {
		t.Error("whitespace-only free text is not answered")
	}
	if !IsAnswered(&store.Answer{SelectedOption: "B"}) {
		t.Error("selected option counts as answered")
	}
	if !IsAnswered(&store.Answer{FreeText: "42"}) {
		t.Error("free text counts as answered")
	}
}
