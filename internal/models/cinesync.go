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

// CinesyncItem is one indexed file from the mirror library, keyed by its
// own path.
type CinesyncItem struct {
	Path           string    `json:"path"`
	TMDBID         *int      `json:"tmdbId,omitempty"`
	ShowTitle      string    `json:"showTitle,omitempty"`
	ShowNorm       string    `json:"showNorm,omitempty"`
	Year           *int      `json:"year,omitempty"`
	Season         *int      `json:"season,omitempty"`
	Episode        *int      `json:"episode,omitempty"`
	TargetOk       bool      `json:"targetOk"`
	ResolutionRank int       `json:"resolutionRank"`
	FirstSeenAt    time.Time `json:"firstSeenAt"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
}

// CinesyncStore handles database operations for the mirror library index.
type CinesyncStore struct {
	db dbinterface.Querier
}

// NewCinesyncStore creates a new CinesyncStore.
func NewCinesyncStore(db dbinterface.Querier) *CinesyncStore {
	return &CinesyncStore{db: db}
}

// Upsert records an indexed mirror file, refreshing metadata and the
// target-resolves flag on re-index.
func (s *CinesyncStore) Upsert(ctx context.Context, item *CinesyncItem, now time.Time) error {
	ts := sqlTime(now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cinesync_items (path, tmdb_id, show_title, show_norm, year, season, episode,
			target_ok, resolution_rank, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			tmdb_id = excluded.tmdb_id,
			show_title = excluded.show_title,
			show_norm = excluded.show_norm,
			year = excluded.year,
			season = excluded.season,
			episode = excluded.episode,
			target_ok = excluded.target_ok,
			resolution_rank = excluded.resolution_rank,
			last_seen_at = excluded.last_seen_at
	`, item.Path, item.TMDBID, nullString(item.ShowTitle), nullString(item.ShowNorm),
		item.Year, item.Season, item.Episode,
		boolToInt(item.TargetOk), item.ResolutionRank, ts, ts)
	if err != nil {
		return fmt.Errorf("upsert cinesync item %s: %w", item.Path, err)
	}
	return nil
}

// FindByTMDB lists resolvable candidates for an identifier match, best
// resolution first.
func (s *CinesyncStore) FindByTMDB(ctx context.Context, tmdbID int, season, episode *int) ([]*CinesyncItem, error) {
	query := `SELECT` + cinesyncColumns + ` FROM cinesync_items
		WHERE tmdb_id = ? AND target_ok = 1`
	args := []any{tmdbID}
	query, args = cinesyncEpisodeFilter(query, args, season, episode)

	return s.query(ctx, query, args...)
}

// FindByNormTitle lists resolvable candidates whose normalized title matches
// exactly, best resolution first.
func (s *CinesyncStore) FindByNormTitle(ctx context.Context, showNorm string, season, episode *int) ([]*CinesyncItem, error) {
	query := `SELECT` + cinesyncColumns + ` FROM cinesync_items
		WHERE show_norm = ? AND target_ok = 1`
	args := []any{showNorm}
	query, args = cinesyncEpisodeFilter(query, args, season, episode)

	return s.query(ctx, query, args...)
}

// DistinctTitles lists the distinct normalized titles with at least one
// resolvable item, for the fuzzy fallback.
func (s *CinesyncStore) DistinctTitles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT show_norm FROM cinesync_items
		WHERE show_norm IS NOT NULL AND show_norm <> '' AND target_ok = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query cinesync titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan cinesync title: %w", err)
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// Count returns the number of indexed mirror items.
func (s *CinesyncStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cinesync_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cinesync items: %w", err)
	}
	return n, nil
}

const cinesyncColumns = `
	path, tmdb_id, show_title, show_norm, year, season, episode,
	target_ok, resolution_rank, first_seen_at, last_seen_at`

func cinesyncEpisodeFilter(query string, args []any, season, episode *int) (string, []any) {
	if season != nil {
		query += ` AND season = ?`
		args = append(args, *season)
	}
	if episode != nil {
		query += ` AND episode = ?`
		args = append(args, *episode)
	}
	query += ` ORDER BY resolution_rank DESC, path ASC`
	return query, args
}

func (s *CinesyncStore) query(ctx context.Context, query string, args ...any) ([]*CinesyncItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cinesync items: %w", err)
	}
	defer rows.Close()

	var out []*CinesyncItem
	for rows.Next() {
		var it CinesyncItem
		var showTitle, showNorm sql.NullString
		var tmdbID, year, season, episode sql.NullInt64
		if err := rows.Scan(&it.Path, &tmdbID, &showTitle, &showNorm, &year, &season, &episode,
			&it.TargetOk, &it.ResolutionRank, &it.FirstSeenAt, &it.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan cinesync item: %w", err)
		}
		it.ShowTitle = showTitle.String
		it.ShowNorm = showNorm.String
		it.TMDBID = nullIntPtr(tmdbID)
		it.Year = nullIntPtr(year)
		it.Season = nullIntPtr(season)
		it.Episode = nullIntPtr(episode)
		out = append(out, &it)
	}
	return out, rows.Err()
}
