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

// QuarantineState defines the lifecycle of a quarantined symlink.
type QuarantineState string

const (
	QuarantineStateQuarantined QuarantineState = "quarantined"
	QuarantineStateResolved    QuarantineState = "resolved"
)

// QuarantineRecord tracks a broken symlink moved aside during batch repair.
type QuarantineRecord struct {
	ID               int64           `json:"id"`
	OriginalPath     string          `json:"originalPath"`
	QuarantinePath   string          `json:"quarantinePath"`
	Library          string          `json:"library,omitempty"`
	Show             string          `json:"show,omitempty"`
	Season           *int            `json:"season,omitempty"`
	Episode          *int            `json:"episode,omitempty"`
	State            QuarantineState `json:"state"`
	ResolutionReason string          `json:"resolutionReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	ResolvedAt       *time.Time      `json:"resolvedAt,omitempty"`
}

// QuarantineStore handles database operations for quarantine records.
type QuarantineStore struct {
	db dbinterface.Querier
}

// NewQuarantineStore creates a new QuarantineStore.
func NewQuarantineStore(db dbinterface.Querier) *QuarantineStore {
	return &QuarantineStore{db: db}
}

// Create records a quarantine move. Callers must perform the filesystem
// rename first and only record on success, so a failed move never leaves a
// phantom row.
func (s *QuarantineStore) Create(ctx context.Context, rec *QuarantineRecord, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantine (original_path, quarantine_path, library, show, season, episode, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'quarantined', ?)
	`, rec.OriginalPath, rec.QuarantinePath,
		nullString(rec.Library), nullString(rec.Show), rec.Season, rec.Episode, sqlTime(now))
	if err != nil {
		return 0, fmt.Errorf("insert quarantine record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// ResolveForPath resolves all open quarantine rows for an original path.
func (s *QuarantineStore) ResolveForPath(ctx context.Context, originalPath, reason string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quarantine SET state = 'resolved', resolved_at = ?, resolution_reason = ?
		WHERE original_path = ? AND state = 'quarantined'
	`, sqlTime(now), reason, originalPath)
	if err != nil {
		return 0, fmt.Errorf("resolve quarantine for %s: %w", originalPath, err)
	}
	return res.RowsAffected()
}

// ListOpen returns quarantine rows still awaiting resolution, oldest first.
func (s *QuarantineStore) ListOpen(ctx context.Context, limit int) ([]*QuarantineRecord, error) {
	query := `
		SELECT id, original_path, quarantine_path, library, show, season, episode,
		       state, resolution_reason, created_at, resolved_at
		FROM quarantine WHERE state = 'quarantined' ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open quarantine records: %w", err)
	}
	defer rows.Close()

	var out []*QuarantineRecord
	for rows.Next() {
		var r QuarantineRecord
		var library, show, reason sql.NullString
		var season, episode sql.NullInt64
		var resolvedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.OriginalPath, &r.QuarantinePath, &library, &show, &season, &episode,
			&r.State, &reason, &r.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan quarantine record: %w", err)
		}
		r.Library = library.String
		r.Show = show.String
		r.ResolutionReason = reason.String
		r.Season = nullIntPtr(season)
		r.Episode = nullIntPtr(episode)
		r.ResolvedAt = nullTimePtr(resolvedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}
