package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// graphRepo implements GraphRepo over SQLite.
type graphRepo struct {
	db *sql.DB
}

func (r *graphRepo) CreateNode(ctx context.Context, n *Node) error {
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO nodes (id, user_id, type, parent_id, cluster_id, title, description, accuracy, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Type), nullable(n.ParentID), nullable(n.ClusterID),
		n.Title, n.Description, n.Accuracy, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func (r *graphRepo) GetNode(ctx context.Context, id string) (*Node, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, type, parent_id, cluster_id, title, description, accuracy, created_at, updated_at
		 FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

func (r *graphRepo) ListChildren(ctx context.Context, parentID string) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, parent_id, cluster_id, title, description, accuracy, created_at, updated_at
		 FROM nodes WHERE parent_id = ? ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *graphRepo) UpdateNodeAccuracy(ctx context.Context, id string, accuracy float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET accuracy = ?, updated_at = ? WHERE id = ?`,
		accuracy, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update node accuracy: %w", err)
	}
	return nil
}

func (r *graphRepo) DeleteNode(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return nil
}

func (r *graphRepo) EdgeExists(ctx context.Context, sourceID, targetID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM edges WHERE source_id = ? AND target_id = ?`,
		sourceID, targetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("edge exists: %w", err)
	}
	return true, nil
}

func (r *graphRepo) CreateEdge(ctx context.Context, sourceID, targetID string) error {
	// INSERT OR IGNORE keeps the unique (source,target) backstop from
	// surfacing as an error under benign races.
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO edges (source_id, target_id) VALUES (?, ?)`,
		sourceID, targetID)
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return nil
}

func (r *graphRepo) DeleteEdge(ctx context.Context, sourceID, targetID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM edges WHERE source_id = ? AND target_id = ?`,
		sourceID, targetID)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	return nil
}

func (r *graphRepo) EdgesTouching(ctx context.Context, nodeID string) ([]Edge, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT source_id, target_id FROM edges WHERE source_id = ? OR target_id = ?
		 ORDER BY source_id, target_id`, nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("edges touching: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (r *graphRepo) EdgesAmong(ctx context.Context, ids []string) ([]Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT source_id, target_id FROM edges
		 WHERE source_id IN (%s) AND target_id IN (%s)
		 ORDER BY source_id, target_id`, placeholders, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("edges among: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (*Node, error) {
	var n Node
	var nodeType string
	var parentID, clusterID sql.NullString
	if err := s.Scan(&n.ID, &n.UserID, &nodeType, &parentID, &clusterID,
		&n.Title, &n.Description, &n.Accuracy, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Type = NodeType(nodeType)
	n.ParentID = parentID.String
	n.ClusterID = clusterID.String
	return &n, nil
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.SourceID, &e.TargetID); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
