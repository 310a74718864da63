package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// progressRepo implements ProgressRepo over SQLite.
type progressRepo struct {
	db *sql.DB
}

func (r *progressRepo) Ensure(ctx context.Context, userID, nodeID string) (*Progress, error) {
	p, err := r.get(ctx, userID, nodeID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	now := time.Now().UTC()
	p = &Progress{
		UserID:         userID,
		NodeID:         nodeID,
		FirstEnteredAt: now,
		LastEnteredAt:  now,
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO progress (user_id, node_id, accuracy, attempts, first_entered_at, last_entered_at, structure_generated)
		 VALUES (?, ?, 0, 0, ?, ?, 0)`,
		userID, nodeID, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert progress: %w", err)
	}
	return p, nil
}

func (r *progressRepo) RecordAttempt(ctx context.Context, userID, nodeID string, accuracy float64) error {
	if _, err := r.Ensure(ctx, userID, nodeID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE progress SET accuracy = ?, attempts = attempts + 1, last_entered_at = ?
		 WHERE user_id = ? AND node_id = ?`,
		accuracy, time.Now().UTC(), userID, nodeID)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (r *progressRepo) MarkStructureGenerated(ctx context.Context, userID, nodeID string) error {
	if _, err := r.Ensure(ctx, userID, nodeID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE progress SET structure_generated = 1, last_entered_at = ?
		 WHERE user_id = ? AND node_id = ?`,
		time.Now().UTC(), userID, nodeID)
	if err != nil {
		return fmt.Errorf("mark structure generated: %w", err)
	}
	return nil
}

func (r *progressRepo) MarkCompleted(ctx context.Context, userID, nodeID string) error {
	if _, err := r.Ensure(ctx, userID, nodeID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE progress SET completed_at = ?, last_entered_at = ?
		 WHERE user_id = ? AND node_id = ?`,
		time.Now().UTC(), time.Now().UTC(), userID, nodeID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (r *progressRepo) get(ctx context.Context, userID, nodeID string) (*Progress, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT user_id, node_id, accuracy, attempts, first_entered_at, last_entered_at, completed_at, structure_generated
		 FROM progress WHERE user_id = ? AND node_id = ?`, userID, nodeID)

	var p Progress
	var completed sql.NullTime
	err := row.Scan(&p.UserID, &p.NodeID, &p.Accuracy, &p.Attempts,
		&p.FirstEnteredAt, &p.LastEnteredAt, &completed, &p.StructureGenerated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if completed.Valid {
		t := completed.Time
		p.CompletedAt = &t
	}
	return &p, nil
}
