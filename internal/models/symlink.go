// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relinkarr/relinkarr/internal/dbinterface"
)

// SymlinkStatus defines the health of a tracked symlink.
type SymlinkStatus string

const (
	SymlinkStatusUnknown SymlinkStatus = "unknown"
	SymlinkStatusOk      SymlinkStatus = "ok"
	SymlinkStatusBroken  SymlinkStatus = "broken"
	SymlinkStatusError   SymlinkStatus = "error"
)

// RepairStrategy identifies which repair path touched a symlink.
type RepairStrategy string

const (
	StrategyCinesync RepairStrategy = "cinesync"
	StrategyArr      RepairStrategy = "arr"
)

// SymlinkRecord is one row per absolute symlink path.
type SymlinkRecord struct {
	Path            string        `json:"path"`
	Target          string        `json:"target,omitempty"`
	Status          SymlinkStatus `json:"status"`
	Current         bool          `json:"current"`
	Library         string        `json:"library,omitempty"`
	Show            string        `json:"show,omitempty"`
	Season          *int          `json:"season,omitempty"`
	Episode         *int          `json:"episode,omitempty"`
	Ext             string        `json:"ext,omitempty"`
	FirstSeenAt     time.Time     `json:"firstSeenAt"`
	LastSeenAt      time.Time     `json:"lastSeenAt"`
	LastCheckedAt   time.Time     `json:"lastCheckedAt"`
	StatusChangedAt *time.Time    `json:"statusChangedAt,omitempty"`
	FirstBrokenAt   *time.Time    `json:"firstBrokenAt,omitempty"`
	LastBrokenAt    *time.Time    `json:"lastBrokenAt,omitempty"`
	LastOkAt        *time.Time    `json:"lastOkAt,omitempty"`
	SeenCount       int           `json:"seenCount"`
	BrokenCount     int           `json:"brokenCount"`
	OkCount         int           `json:"okCount"`
	ErrorCount      int           `json:"errorCount"`
	AttemptsCine    int           `json:"attemptsCinesync"`
	AttemptsArr     int           `json:"attemptsArr"`
	LastStrategy    string        `json:"lastStrategy,omitempty"`
	LastRepairAt    *time.Time    `json:"lastRepairAt,omitempty"`
	NextRetryAt     *time.Time    `json:"nextRetryAt,omitempty"`
	ManualRequired  bool          `json:"manualRequired"`
	ManualReason    string        `json:"manualReason,omitempty"`
}

// BrokenAge reports how long the record has been broken, zero if it is not.
func (r *SymlinkRecord) BrokenAge(now time.Time) time.Duration {
	if r.Status != SymlinkStatusBroken || r.FirstBrokenAt == nil {
		return 0
	}
	return now.Sub(*r.FirstBrokenAt)
}

// Observation is one scanner finding for a path within a scan.
type Observation struct {
	Path    string
	Target  string
	Status  SymlinkStatus
	Library string
	Show    string
	Season  *int
	Episode *int
	Ext     string
}

// StatusEvent is an append-only record of a status transition.
type StatusEvent struct {
	ID        int64         `json:"id"`
	ScanID    *int64        `json:"scanId,omitempty"`
	Path      string        `json:"path"`
	OldStatus SymlinkStatus `json:"oldStatus,omitempty"`
	NewStatus SymlinkStatus `json:"newStatus"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ScanRun is one row per scan invocation.
type ScanRun struct {
	ID         int64      `json:"id"`
	Roots      []string   `json:"roots"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Total      int        `json:"total"`
	Ok         int        `json:"ok"`
	Broken     int        `json:"broken"`
	Errors     int        `json:"errors"`
}

// ScanAggregates are the counts written onto a ScanRun at finalize time.
type ScanAggregates struct {
	Total  int
	Ok     int
	Broken int
	Errors int
}

// BrokenFilter narrows GetBroken results.
type BrokenFilter struct {
	// EligibleOnly excludes manual-required rows and rows still in cooldown.
	EligibleOnly bool
	Library      string
	Limit        int
	Now          time.Time
}

// StatusCounts summarizes symlink health for the dashboard and metrics.
type StatusCounts struct {
	Total          int `json:"total"`
	Ok             int `json:"ok"`
	Broken         int `json:"broken"`
	Errors         int `json:"errors"`
	ManualRequired int `json:"manualRequired"`
	NotCurrent     int `json:"notCurrent"`
}

// ErrScanAlreadyFinalized is returned when a scan run is finalized twice.
var ErrScanAlreadyFinalized = errors.New("scan run already finalized")

// SymlinkStore handles database operations for symlink records, scan runs
// and status events. It is the single writer-of-record for those tables.
type SymlinkStore struct {
	db dbinterface.Querier
}

// NewSymlinkStore creates a new SymlinkStore.
func NewSymlinkStore(db dbinterface.Querier) *SymlinkStore {
	return &SymlinkStore{db: db}
}

// BeginScan opens a new scan run over roots and returns its id.
func (s *SymlinkStore) BeginScan(ctx context.Context, roots []string, now time.Time) (int64, error) {
	rootsJSON, err := json.Marshal(roots)
	if err != nil {
		return 0, fmt.Errorf("marshal roots: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (roots, started_at) VALUES (?, ?)
	`, string(rootsJSON), sqlTime(now))
	if err != nil {
		return 0, fmt.Errorf("insert scan run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// RecordObservation upserts one scanner finding.
//
// first_seen is immutable, counters only increase, and a StatusEvent row is
// appended only when the stored status actually changes. Metadata columns
// keep their previous value when the new observation carries none, so a
// transient parse failure never erases known show/season info. An `ok`
// observation resolves any open quarantine row for the path.
func (s *SymlinkStore) RecordObservation(ctx context.Context, scanID int64, obs Observation, now time.Time) error {
	return s.recordOne(ctx, s.db, scanID, obs, now)
}

// RecordObservations applies a batch of findings inside one write
// transaction when the underlying handle supports it.
func (s *SymlinkStore) RecordObservations(ctx context.Context, scanID int64, batch []Observation, now time.Time) error {
	if len(batch) == 0 {
		return nil
	}

	txb, ok := s.db.(dbinterface.TxBeginner)
	if !ok {
		for _, obs := range batch {
			if err := s.recordOne(ctx, s.db, scanID, obs, now); err != nil {
				return err
			}
		}
		return nil
	}

	tx, err := txb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin observation batch: %w", err)
	}
	defer tx.Rollback()

	for _, obs := range batch {
		if err := s.recordOne(ctx, tx, scanID, obs, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit observation batch: %w", err)
	}
	return nil
}

func (s *SymlinkStore) recordOne(ctx context.Context, q dbinterface.Querier, scanID int64, obs Observation, now time.Time) error {
	var oldStatus sql.NullString
	err := q.QueryRowContext(ctx, `SELECT status FROM symlinks WHERE path = ?`, obs.Path).Scan(&oldStatus)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read previous status: %w", err)
	}

	ts := sqlTime(now)
	_, err = q.ExecContext(ctx, `
		INSERT INTO symlinks (
			path, target, status, current, library, show, season, episode, ext,
			first_seen_at, last_seen_at, last_checked_at, status_changed_at,
			first_broken_at, last_broken_at, last_ok_at,
			seen_count, broken_count, ok_count, error_count
		) VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?,
			?, ?, ?, ?,
			CASE WHEN ? = 'broken' THEN ? END,
			CASE WHEN ? = 'broken' THEN ? END,
			CASE WHEN ? = 'ok' THEN ? END,
			1,
			CASE WHEN ? = 'broken' THEN 1 ELSE 0 END,
			CASE WHEN ? = 'ok' THEN 1 ELSE 0 END,
			CASE WHEN ? = 'error' THEN 1 ELSE 0 END)
		ON CONFLICT(path) DO UPDATE SET
			target = COALESCE(excluded.target, symlinks.target),
			status = excluded.status,
			current = 1,
			library = COALESCE(excluded.library, symlinks.library),
			show = COALESCE(excluded.show, symlinks.show),
			season = COALESCE(excluded.season, symlinks.season),
			episode = COALESCE(excluded.episode, symlinks.episode),
			ext = COALESCE(excluded.ext, symlinks.ext),
			last_seen_at = excluded.last_seen_at,
			last_checked_at = excluded.last_checked_at,
			status_changed_at = CASE WHEN symlinks.status <> excluded.status
				THEN excluded.last_checked_at ELSE symlinks.status_changed_at END,
			first_broken_at = CASE WHEN excluded.status = 'broken' AND symlinks.status <> 'broken'
				THEN COALESCE(symlinks.first_broken_at, excluded.last_checked_at)
				WHEN excluded.status = 'ok' THEN NULL
				ELSE symlinks.first_broken_at END,
			last_broken_at = CASE WHEN excluded.status = 'broken'
				THEN excluded.last_checked_at ELSE symlinks.last_broken_at END,
			last_ok_at = CASE WHEN excluded.status = 'ok'
				THEN excluded.last_checked_at ELSE symlinks.last_ok_at END,
			seen_count = symlinks.seen_count + 1,
			broken_count = symlinks.broken_count + CASE WHEN excluded.status = 'broken' THEN 1 ELSE 0 END,
			ok_count = symlinks.ok_count + CASE WHEN excluded.status = 'ok' THEN 1 ELSE 0 END,
			error_count = symlinks.error_count + CASE WHEN excluded.status = 'error' THEN 1 ELSE 0 END
	`,
		obs.Path, nullString(obs.Target), string(obs.Status),
		nullString(obs.Library), nullString(obs.Show), obs.Season, obs.Episode, nullString(obs.Ext),
		ts, ts, ts, ts,
		string(obs.Status), ts,
		string(obs.Status), ts,
		string(obs.Status), ts,
		string(obs.Status),
		string(obs.Status),
		string(obs.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert symlink %s: %w", obs.Path, err)
	}

	changed := !oldStatus.Valid || oldStatus.String != string(obs.Status)
	if changed {
		var old any
		if oldStatus.Valid {
			old = oldStatus.String
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO status_events (scan_id, path, old_status, new_status, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, scanID, obs.Path, old, string(obs.Status), ts)
		if err != nil {
			return fmt.Errorf("append status event: %w", err)
		}
	}

	if obs.Status == SymlinkStatusOk {
		_, err = q.ExecContext(ctx, `
			UPDATE quarantine
			SET state = 'resolved', resolved_at = ?, resolution_reason = 'healthy link observed'
			WHERE original_path = ? AND state = 'quarantined'
		`, ts, obs.Path)
		if err != nil {
			return fmt.Errorf("resolve quarantine for %s: %w", obs.Path, err)
		}
	}

	return nil
}

// FinalizeScan closes the scan run exactly once, writing aggregates and
// soft-hiding rows under the scanned roots that the scan did not observe.
func (s *SymlinkStore) FinalizeScan(ctx context.Context, scanID int64, agg ScanAggregates, now time.Time) error {
	run, err := s.GetScanRun(ctx, scanID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("scan run %d not found", scanID)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE scan_runs
		SET finished_at = ?, total = ?, ok = ?, broken = ?, errors = ?
		WHERE id = ? AND finished_at IS NULL
	`, sqlTime(now), agg.Total, agg.Ok, agg.Broken, agg.Errors, scanID)
	if err != nil {
		return fmt.Errorf("finalize scan run: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	} else if n == 0 {
		return ErrScanAlreadyFinalized
	}

	if len(run.Roots) == 0 {
		return nil
	}

	// Rows under the scanned roots whose last_seen predates this scan were
	// not observed in it. Soft-hide, never delete.
	var sb strings.Builder
	args := make([]any, 0, len(run.Roots)+1)
	sb.WriteString(`UPDATE symlinks SET current = 0 WHERE current = 1 AND last_seen_at < ? AND (`)
	args = append(args, sqlTime(run.StartedAt))
	for i, root := range run.Roots {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("path LIKE ? ESCAPE '\\'")
		args = append(args, likePrefix(root))
	}
	sb.WriteString(")")

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("mark unobserved rows not current: %w", err)
	}
	return nil
}

// GetScanRun retrieves a scan run by id, nil when absent.
func (s *SymlinkStore) GetScanRun(ctx context.Context, id int64) (*ScanRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, roots, started_at, finished_at, total, ok, broken, errors
		FROM scan_runs WHERE id = ?
	`, id)

	var run ScanRun
	var rootsJSON string
	var finishedAt sql.NullTime
	err := row.Scan(&run.ID, &rootsJSON, &run.StartedAt, &finishedAt, &run.Total, &run.Ok, &run.Broken, &run.Errors)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(rootsJSON), &run.Roots); err != nil {
		return nil, fmt.Errorf("unmarshal roots: %w", err)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

const symlinkColumns = `
	path, target, status, current, library, show, season, episode, ext,
	first_seen_at, last_seen_at, last_checked_at, status_changed_at,
	first_broken_at, last_broken_at, last_ok_at,
	seen_count, broken_count, ok_count, error_count,
	attempts_cinesync, attempts_arr, last_strategy, last_repair_at,
	next_retry_at, manual_required, manual_reason`

// GetByPath retrieves a single record, nil when absent.
func (s *SymlinkStore) GetByPath(ctx context.Context, path string) (*SymlinkRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+symlinkColumns+` FROM symlinks WHERE path = ?`, path)
	rec, err := scanSymlink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// GetBroken lists broken, current records matching the filter, oldest broken
// first.
func (s *SymlinkStore) GetBroken(ctx context.Context, f BrokenFilter) ([]*SymlinkRecord, error) {
	query := `SELECT` + symlinkColumns + ` FROM symlinks WHERE status = 'broken' AND current = 1`
	args := []any{}

	if f.EligibleOnly {
		now := f.Now
		if now.IsZero() {
			now = time.Now()
		}
		query += ` AND manual_required = 0 AND (next_retry_at IS NULL OR next_retry_at <= ?)`
		args = append(args, sqlTime(now))
	}
	if f.Library != "" {
		query += ` AND library = ?`
		args = append(args, f.Library)
	}
	query += ` ORDER BY COALESCE(first_broken_at, last_broken_at) ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query broken symlinks: %w", err)
	}
	defer rows.Close()

	return scanSymlinks(rows)
}

// GetBrokenGroup lists all current broken records for one
// (library, show, season) group, manual rows included.
func (s *SymlinkStore) GetBrokenGroup(ctx context.Context, library, show string, season *int) ([]*SymlinkRecord, error) {
	query := `SELECT` + symlinkColumns + ` FROM symlinks
		WHERE status = 'broken' AND current = 1
		  AND COALESCE(library, '') = ? AND COALESCE(show, '') = ?`
	args := []any{library, show}
	if season != nil {
		query += ` AND season = ?`
		args = append(args, *season)
	} else {
		query += ` AND season IS NULL`
	}
	query += ` ORDER BY path ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query broken group: %w", err)
	}
	defer rows.Close()

	return scanSymlinks(rows)
}

// ListByStatus lists current records with the given status for the API.
func (s *SymlinkStore) ListByStatus(ctx context.Context, status SymlinkStatus, limit int) ([]*SymlinkRecord, error) {
	query := `SELECT` + symlinkColumns + ` FROM symlinks WHERE status = ? AND current = 1 ORDER BY last_checked_at DESC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query symlinks by status: %w", err)
	}
	defer rows.Close()

	return scanSymlinks(rows)
}

// MarkManual sets the sticky manual-required flag with a reason.
func (s *SymlinkStore) MarkManual(ctx context.Context, path, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE symlinks SET manual_required = 1, manual_reason = ? WHERE path = ?
	`, reason, path)
	if err != nil {
		return fmt.Errorf("mark manual %s: %w", path, err)
	}
	return nil
}

// ClearManual removes the manual-required flag. This is the only way the
// flag comes off; repairs and rescans never touch it.
func (s *SymlinkStore) ClearManual(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE symlinks SET manual_required = 0, manual_reason = NULL WHERE path = ?
	`, path)
	if err != nil {
		return fmt.Errorf("clear manual %s: %w", path, err)
	}
	return nil
}

// MarkStrategyAttempt bumps the per-strategy attempt counter for paths and
// pushes next_retry_at out by cooldown.
func (s *SymlinkStore) MarkStrategyAttempt(ctx context.Context, paths []string, strategy RepairStrategy, cooldown time.Duration, now time.Time) error {
	if len(paths) == 0 {
		return nil
	}

	col := "attempts_cinesync"
	if strategy == StrategyArr {
		col = "attempts_arr"
	}

	placeholders := strings.Repeat("?,", len(paths))
	placeholders = placeholders[:len(placeholders)-1]

	args := []any{string(strategy), sqlTime(now), sqlTime(now.Add(cooldown))}
	for _, p := range paths {
		args = append(args, p)
	}

	//nolint:gosec // col is one of two fixed identifiers
	query := fmt.Sprintf(`
		UPDATE symlinks
		SET %s = %s + 1, last_strategy = ?, last_repair_at = ?, next_retry_at = ?
		WHERE path IN (%s)
	`, col, col, placeholders)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark %s attempt: %w", strategy, err)
	}
	return nil
}

// Counts aggregates current symlink health.
func (s *SymlinkStore) Counts(ctx context.Context) (*StatusCounts, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE current = 1),
			COUNT(*) FILTER (WHERE current = 1 AND status = 'ok'),
			COUNT(*) FILTER (WHERE current = 1 AND status = 'broken'),
			COUNT(*) FILTER (WHERE current = 1 AND status = 'error'),
			COUNT(*) FILTER (WHERE current = 1 AND manual_required = 1),
			COUNT(*) FILTER (WHERE current = 0)
		FROM symlinks
	`)

	var c StatusCounts
	if err := row.Scan(&c.Total, &c.Ok, &c.Broken, &c.Errors, &c.ManualRequired, &c.NotCurrent); err != nil {
		return nil, fmt.Errorf("scan status counts: %w", err)
	}
	return &c, nil
}

// EventsForPath lists status transitions for one path, newest first.
func (s *SymlinkStore) EventsForPath(ctx context.Context, path string, limit int) ([]*StatusEvent, error) {
	query := `
		SELECT id, scan_id, path, old_status, new_status, created_at
		FROM status_events WHERE path = ? ORDER BY id DESC`
	args := []any{path}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query status events: %w", err)
	}
	defer rows.Close()

	var events []*StatusEvent
	for rows.Next() {
		var ev StatusEvent
		var scanID sql.NullInt64
		var old sql.NullString
		if err := rows.Scan(&ev.ID, &scanID, &ev.Path, &old, &ev.NewStatus, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		if scanID.Valid {
			id := scanID.Int64
			ev.ScanID = &id
		}
		if old.Valid {
			ev.OldStatus = SymlinkStatus(old.String)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func scanSymlinks(rows *sql.Rows) ([]*SymlinkRecord, error) {
	var out []*SymlinkRecord
	for rows.Next() {
		rec, err := scanSymlink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSymlink(scanner sqlScanner) (*SymlinkRecord, error) {
	var r SymlinkRecord
	var target, library, show, ext, lastStrategy, manualReason sql.NullString
	var season, episode sql.NullInt64
	var statusChangedAt, firstBrokenAt, lastBrokenAt, lastOkAt, lastRepairAt, nextRetryAt sql.NullTime

	err := scanner.Scan(
		&r.Path, &target, &r.Status, &r.Current, &library, &show, &season, &episode, &ext,
		&r.FirstSeenAt, &r.LastSeenAt, &r.LastCheckedAt, &statusChangedAt,
		&firstBrokenAt, &lastBrokenAt, &lastOkAt,
		&r.SeenCount, &r.BrokenCount, &r.OkCount, &r.ErrorCount,
		&r.AttemptsCine, &r.AttemptsArr, &lastStrategy, &lastRepairAt,
		&nextRetryAt, &r.ManualRequired, &manualReason,
	)
	if err != nil {
		return nil, err
	}

	r.Target = target.String
	r.Library = library.String
	r.Show = show.String
	r.Ext = ext.String
	r.LastStrategy = lastStrategy.String
	r.ManualReason = manualReason.String
	r.Season = nullIntPtr(season)
	r.Episode = nullIntPtr(episode)
	r.StatusChangedAt = nullTimePtr(statusChangedAt)
	r.FirstBrokenAt = nullTimePtr(firstBrokenAt)
	r.LastBrokenAt = nullTimePtr(lastBrokenAt)
	r.LastOkAt = nullTimePtr(lastOkAt)
	r.LastRepairAt = nullTimePtr(lastRepairAt)
	r.NextRetryAt = nullTimePtr(nextRetryAt)
	return &r, nil
}
