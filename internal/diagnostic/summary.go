package diagnostic

import "github.com/abhisek/curio/internal/store"

const (
	correctThreshold = 0.7
	maxStrengths     = 8
	maxGaps          = 10
)

// SummaryItem is one graded question in a summary bucket.
type SummaryItem struct {
	QuestionID string  `json:"question_id"`
	Prompt     string  `json:"prompt"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback,omitempty"`
}

// Summary is the deterministic condensation of a graded assessment.
// OverallScore is nil when nothing was scored.
type Summary struct {
	Total        int           `json:"total"`
	Answered     int           `json:"answered"`
	OverallScore *float64      `json:"overall_score"`
	Strengths    []SummaryItem `json:"strengths"`
	Gaps         []SummaryItem `json:"gaps"`
}

// NormalizeScore maps a raw verdict onto [0,1]. Percentage-scale scores
// (>1) are divided by 100, then clamped. A missing score falls back to the
// correctness flag; nil means unscored.
func NormalizeScore(score *float64, isCorrect *bool) *float64 {
	if score == nil {
		if isCorrect == nil {
			return nil
		}
		v := 0.0
		if *isCorrect {
			v = 1.0
		}
		return &v
	}
	v := *score
	if v > 1 {
		v /= 100
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return &v
}

// DeriveCorrect resolves the correctness flag: explicit when present,
// otherwise score >= 0.7.
func DeriveCorrect(score *float64, isCorrect *bool) bool {
	if isCorrect != nil {
		return *isCorrect
	}
	return score != nil && *score >= correctThreshold
}

// Summarize buckets graded questions into strengths (score >= 0.7, first
// 8) and gaps (score < 0.7, first 10), preserving original question order.
// The overall score is the mean of normalized scores.
func Summarize(questions []store.Question, answers []store.Answer, verdicts []GradedItem) *Summary {
	byQuestion := make(map[string]*store.Answer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID] = &answers[i]
	}
	verdictFor := make(map[string]*GradedItem, len(verdicts))
	for i := range verdicts {
		verdictFor[verdicts[i].QuestionID] = &verdicts[i]
	}

	s := &Summary{Total: len(questions)}
	var sum float64
	var scored int

	for _, q := range questions {
		if IsAnswered(byQuestion[q.ID]) {
			s.Answered++
		}
		v := verdictFor[q.ID]
		if v == nil {
			continue
		}
		norm := NormalizeScore(v.Score, v.IsCorrect)
		if norm == nil {
			continue
		}
		sum += *norm
		scored++

		item := SummaryItem{
			QuestionID: q.ID,
			Prompt:     q.Prompt,
			Score:      *norm,
			Feedback:   v.Feedback,
		}
		if *norm >= correctThreshold {
			if len(s.Strengths) < maxStrengths {
				s.Strengths = append(s.Strengths, item)
			}
		} else if len(s.Gaps) < maxGaps {
			s.Gaps = append(s.Gaps, item)
		}
	}

	if scored > 0 {
		mean := sum / float64(scored)
		s.OverallScore = &mean
	}
	return s
}
