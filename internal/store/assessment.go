package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// assessmentRepo implements AssessmentRepo over SQLite.
type assessmentRepo struct {
	db *sql.DB
}

func (r *assessmentRepo) GetOrCreate(ctx context.Context, userID, nodeID, kind string) (*Assessment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, node_id, kind, created_at FROM assessments
		 WHERE user_id = ? AND node_id = ? AND kind = ?`, userID, nodeID, kind)

	var a Assessment
	err := row.Scan(&a.ID, &a.UserID, &a.NodeID, &a.Kind, &a.CreatedAt)
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	a = Assessment{
		ID:        uuid.NewString(),
		UserID:    userID,
		NodeID:    nodeID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO assessments (id, user_id, node_id, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.NodeID, a.Kind, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert assessment: %w", err)
	}
	return &a, nil
}

func (r *assessmentRepo) AddQuestion(ctx context.Context, q *Question) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO questions (id, assessment_id, position, prompt, format, options, correct_answer, difficulty)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.AssessmentID, q.Position, q.Prompt, q.Format, string(opts), q.CorrectAnswer, q.Difficulty)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (r *assessmentRepo) ListQuestions(ctx context.Context, assessmentID string) ([]Question, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, assessment_id, position, prompt, format, options, correct_answer, difficulty
		 FROM questions WHERE assessment_id = ? ORDER BY position, id`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var q Question
		var opts string
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.Position, &q.Prompt,
			&q.Format, &opts, &q.CorrectAnswer, &q.Difficulty); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			q.Options = nil
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *assessmentRepo) SaveAnswer(ctx context.Context, a *Answer) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO answers (id, question_id, user_id, selected_option, free_text, is_correct, score, feedback, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.QuestionID, a.UserID, a.SelectedOption, a.FreeText,
		nullableBool(a.IsCorrect), nullableFloat(a.Score), a.Feedback, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (r *assessmentRepo) LatestAnswers(ctx context.Context, assessmentID, userID string) ([]Answer, error) {
	// Latest answer per question, in question order.
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.question_id, a.user_id, a.selected_option, a.free_text, a.is_correct, a.score, a.feedback, a.created_at
		 FROM answers a
		 JOIN questions q ON q.id = a.question_id
		 WHERE q.assessment_id = ? AND a.user_id = ?
		   AND a.created_at = (
			SELECT MAX(a2.created_at) FROM answers a2
			WHERE a2.question_id = a.question_id AND a2.user_id = a.user_id
		   )
		 ORDER BY q.position, q.id`, assessmentID, userID)
	if err != nil {
		return nil, fmt.Errorf("latest answers: %w", err)
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		var a Answer
		var isCorrect sql.NullBool
		var score sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.UserID, &a.SelectedOption,
			&a.FreeText, &isCorrect, &score, &a.Feedback, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if isCorrect.Valid {
			v := isCorrect.Bool
			a.IsCorrect = &v
		}
		if score.Valid {
			v := score.Float64
			a.Score = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *assessmentRepo) UpdateAnswerGrade(ctx context.Context, answerID string, isCorrect bool, score float64, feedback string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE answers SET is_correct = ?, score = ?, feedback = ? WHERE id = ?`,
		isCorrect, score, feedback, answerID)
	if err != nil {
		return fmt.Errorf("update answer grade: %w", err)
	}
	return nil
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
