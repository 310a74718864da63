// Package diagnostic grades assessment answers and condenses the results
// into the deterministic summary downstream agents consume. Judgment is
// delegated to the model; everything after the model call is pure.
package diagnostic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

// GradedItem is the model's verdict on one answer, matched back to its
// question by ID.
type GradedItem struct {
	QuestionID string   `json:"question_id"`
	IsCorrect  *bool    `json:"is_correct"`
	Score      *float64 `json:"score"`
	Feedback   string   `json:"feedback"`
}

var gradeSchema = &llm.Schema{
	Name:        "grade-answers",
	Description: "Per-question grading verdicts",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"grades": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question_id": map[string]any{"type": "string"},
						"is_correct":  map[string]any{"type": "boolean"},
						"score":       map[string]any{"type": "number"},
						"feedback":    map[string]any{"type": "string"},
					},
					"required": []string{"question_id"},
				},
			},
		},
		"required": []string{"grades"},
	},
}

const gradeSystemPrompt = `You are a strict but fair grader for an adaptive learning platform.
Grade each answer against its question. For multiple-choice questions the
selected option must exactly match the correct answer. For open-ended
questions judge semantic correctness, partial credit allowed. Score each
answer from 0 to 1. Keep feedback to one or two sentences addressed to the
student.`

// Grader grades answered questions with a single structured model call.
type Grader struct {
	provider  llm.Provider
	maxTokens int
}

// NewGrader creates a grader over the provider.
func NewGrader(provider llm.Provider) *Grader {
	return &Grader{provider: provider, maxTokens: 4096}
}

// Grade sends every answered question-answer pair to the model and returns
// the verdicts. Unanswered questions are skipped. Question IDs are opaque:
// verdicts are matched back by ID, never by position.
func (g *Grader) Grade(ctx context.Context, topic string, questions []store.Question, answers []store.Answer) ([]GradedItem, error) {
	byQuestion := make(map[string]*store.Answer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID] = &answers[i]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	pairs := 0
	for _, q := range questions {
		a := byQuestion[q.ID]
		if !IsAnswered(a) {
			continue
		}
		pairs++
		fmt.Fprintf(&b, "Question %s (%s): %s\n", q.ID, q.Format, q.Prompt)
		if q.Format == store.FormatMultipleChoice {
			fmt.Fprintf(&b, "Options: %s\n", strings.Join(q.Options, " | "))
			fmt.Fprintf(&b, "Correct answer: %s\n", q.CorrectAnswer)
			fmt.Fprintf(&b, "Student selected: %s\n\n", a.SelectedOption)
		} else {
			if q.CorrectAnswer != "" {
				fmt.Fprintf(&b, "Reference answer: %s\n", q.CorrectAnswer)
			}
			fmt.Fprintf(&b, "Student answer: %s\n\n", a.FreeText)
		}
	}
	if pairs == 0 {
		return nil, nil
	}

	resp, err := g.provider.Generate(llm.WithPurpose(ctx, "grade_answers"), llm.Request{
		System:    gradeSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Schema:    gradeSchema,
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("grade answers: %w", err)
	}

	var out struct {
		Grades []GradedItem `json:"grades"`
	}
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return nil, fmt.Errorf("parse grades: %w", err)
	}

	// Drop verdicts for question IDs we never sent.
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	verdicts := out.Grades[:0]
	for _, v := range out.Grades {
		if known[v.QuestionID] {
			verdicts = append(verdicts, v)
		}
	}
	return verdicts, nil
}

// IsAnswered reports whether the answer row carries actual content: a
// non-empty trimmed free text or a selected option. A row with all-null
// content does not count.
func IsAnswered(a *store.Answer) bool {
	if a == nil {
		return false
	}
	return strings.TrimSpace(a.FreeText) != "" || a.SelectedOption != ""
}
