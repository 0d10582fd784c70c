// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relinkarr/relinkarr/internal/dbinterface"
)

// ActionStatus defines the delivery state of an outbound repair trigger.
type ActionStatus string

const (
	ActionStatusPending ActionStatus = "pending"
	ActionStatusSent    ActionStatus = "sent"
	ActionStatusFailed  ActionStatus = "failed"
)

// Action is a deduplicated outbound repair trigger.
type Action struct {
	ID          int64        `json:"id"`
	URL         string       `json:"url"`
	Reason      string       `json:"reason,omitempty"`
	RelatedPath string       `json:"relatedPath,omitempty"`
	Status      ActionStatus `json:"status"`
	LastError   string       `json:"lastError,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	FiredAt     *time.Time   `json:"firedAt,omitempty"`
}

// ActionCounts summarizes the queue for the dashboard and metrics.
type ActionCounts struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// ActionStore handles database operations for the action queue.
type ActionStore struct {
	db dbinterface.Querier
}

// NewActionStore creates a new ActionStore.
func NewActionStore(db dbinterface.Querier) *ActionStore {
	return &ActionStore{db: db}
}

// Enqueue inserts a pending action unless an identical pending URL already
// exists. Re-enqueueing a pending URL is a no-op; the return reports whether
// a row was created.
func (s *ActionStore) Enqueue(ctx context.Context, url, reason, relatedPath string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (url, reason, related_path, status, created_at)
		SELECT ?, ?, ?, 'pending', ?
		WHERE NOT EXISTS (
			SELECT 1 FROM actions WHERE url = ? AND status = 'pending'
		)
	`, url, nullString(reason), nullString(relatedPath), sqlTime(now), url)
	if err != nil {
		// The partial unique index backs the same invariant; a concurrent
		// writer racing past the NOT EXISTS check lands here.
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("enqueue action: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListPending returns up to limit pending actions, oldest first.
func (s *ActionStore) ListPending(ctx context.Context, limit int) ([]*Action, error) {
	query := `
		SELECT id, url, reason, related_path, status, last_error, created_at, fired_at
		FROM actions WHERE status = 'pending' ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// List returns recent actions regardless of status, newest first.
func (s *ActionStore) List(ctx context.Context, limit int) ([]*Action, error) {
	query := `
		SELECT id, url, reason, related_path, status, last_error, created_at, fired_at
		FROM actions ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// LatestByURL returns the most recent action for a URL, nil when none
// exists.
func (s *ActionStore) LatestByURL(ctx context.Context, url string) (*Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, reason, related_path, status, last_error, created_at, fired_at
		FROM actions WHERE url = ? ORDER BY id DESC LIMIT 1
	`, url)
	if err != nil {
		return nil, fmt.Errorf("query action by url: %w", err)
	}
	defer rows.Close()

	actions, err := scanActions(rows)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, nil
	}
	return actions[0], nil
}

// MarkResult transitions a pending action to sent or failed and stamps the
// fired time.
func (s *ActionStore) MarkResult(ctx context.Context, id int64, ok bool, errMsg string, now time.Time) error {
	status := ActionStatusSent
	if !ok {
		status = ActionStatusFailed
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = ?, last_error = ?, fired_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), nullString(errMsg), sqlTime(now), id)
	if err != nil {
		return fmt.Errorf("mark action %d %s: %w", id, status, err)
	}
	return nil
}

// Counts aggregates the queue by status.
func (s *ActionStore) Counts(ctx context.Context) (*ActionCounts, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM actions
	`)

	var c ActionCounts
	if err := row.Scan(&c.Pending, &c.Sent, &c.Failed); err != nil {
		return nil, fmt.Errorf("scan action counts: %w", err)
	}
	return &c, nil
}

func scanActions(rows *sql.Rows) ([]*Action, error) {
	var out []*Action
	for rows.Next() {
		var a Action
		var reason, relatedPath, lastError sql.NullString
		var firedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.URL, &reason, &relatedPath, &a.Status, &lastError, &a.CreatedAt, &firedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Reason = reason.String
		a.RelatedPath = relatedPath.String
		a.LastError = lastError.String
		a.FiredAt = nullTimePtr(firedAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}
