// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/relinkarr/relinkarr/internal/dbinterface"
)

// RepairRunStatus defines the lifecycle of a repair run.
type RepairRunStatus string

const (
	RepairRunStatusRunning   RepairRunStatus = "running"
	RepairRunStatusCompleted RepairRunStatus = "completed"
	RepairRunStatusFailed    RepairRunStatus = "failed"
)

// RepairTrigger identifies what started a repair run.
type RepairTrigger string

const (
	RepairTriggerManual    RepairTrigger = "manual"
	RepairTriggerAuto      RepairTrigger = "auto"
	RepairTriggerScheduled RepairTrigger = "scheduled"
)

// RepairRun is one orchestrated repair batch.
type RepairRun struct {
	ID           int64           `json:"id"`
	Source       string          `json:"source"`
	TriggeredBy  RepairTrigger   `json:"triggeredBy"`
	Status       RepairRunStatus `json:"status"`
	BrokenFound  int             `json:"brokenFound"`
	Repaired     int             `json:"repaired"`
	Skipped      int             `json:"skipped"`
	Failed       int             `json:"failed"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// RepairStat is a per-symlink detail row attached to a run.
type RepairStat struct {
	ID          int64     `json:"id"`
	RunID       int64     `json:"runId"`
	SymlinkPath string    `json:"symlinkPath"`
	Result      string    `json:"result"`
	Details     string    `json:"details,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RepairCounts are the final counters written at run completion.
type RepairCounts struct {
	BrokenFound int
	Repaired    int
	Skipped     int
	Failed      int
}

// OrchestratorState is the persisted singleton toggle for automatic runs.
type OrchestratorState struct {
	Enabled       bool       `json:"enabled"`
	LastAutoRunAt *time.Time `json:"lastAutoRunAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// ErrRunAlreadyTerminal is returned when completing a run that is not
// running anymore.
var ErrRunAlreadyTerminal = errors.New("repair run already completed or failed")

// RepairStore handles database operations for repair runs, per-run stats and
// orchestrator state.
type RepairStore struct {
	db dbinterface.Querier
}

// NewRepairStore creates a new RepairStore.
func NewRepairStore(db dbinterface.Querier) *RepairStore {
	return &RepairStore{db: db}
}

// CreateRun opens a run in running state and returns its id. Runs are
// append-only records: a new run may start while an earlier one is still
// marked running, so a crashed run never blocks future ones.
func (s *RepairStore) CreateRun(ctx context.Context, source string, trigger RepairTrigger, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO repair_runs (source, triggered_by, status, started_at)
		VALUES (?, ?, 'running', ?)
	`, source, string(trigger), sqlTime(now))
	if err != nil {
		return 0, fmt.Errorf("insert repair run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// CompleteRun transitions a running run to completed and writes final
// counters. The transition happens at most once.
func (s *RepairStore) CompleteRun(ctx context.Context, runID int64, counts RepairCounts, now time.Time) error {
	return s.finishRun(ctx, runID, RepairRunStatusCompleted, counts, "", now)
}

// FailRun transitions a running run to failed with an error message.
func (s *RepairStore) FailRun(ctx context.Context, runID int64, counts RepairCounts, errMsg string, now time.Time) error {
	return s.finishRun(ctx, runID, RepairRunStatusFailed, counts, errMsg, now)
}

func (s *RepairStore) finishRun(ctx context.Context, runID int64, status RepairRunStatus, counts RepairCounts, errMsg string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repair_runs
		SET status = ?, broken_found = ?, repaired = ?, skipped = ?, failed = ?,
		    error_message = ?, completed_at = ?
		WHERE id = ? AND status = 'running'
	`, string(status), counts.BrokenFound, counts.Repaired, counts.Skipped, counts.Failed,
		nullString(errMsg), sqlTime(now), runID)
	if err != nil {
		return fmt.Errorf("finish repair run %d: %w", runID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrRunAlreadyTerminal
	}
	return nil
}

// AddStat appends a per-symlink outcome to a run.
func (s *RepairStore) AddStat(ctx context.Context, runID int64, symlinkPath, result, details string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repair_stats (run_id, symlink_path, result, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, runID, symlinkPath, result, nullString(details), sqlTime(now))
	if err != nil {
		return fmt.Errorf("insert repair stat: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id, nil when absent.
func (s *RepairStore) GetRun(ctx context.Context, runID int64) (*RepairRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, triggered_by, status, broken_found, repaired, skipped, failed,
		       error_message, started_at, completed_at
		FROM repair_runs WHERE id = ?
	`, runID)

	run, err := scanRepairRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// CurrentRun returns the most recent run still in running state, nil when
// none is active.
func (s *RepairStore) CurrentRun(ctx context.Context) (*RepairRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, triggered_by, status, broken_found, repaired, skipped, failed,
		       error_message, started_at, completed_at
		FROM repair_runs WHERE status = 'running' ORDER BY id DESC LIMIT 1
	`)

	run, err := scanRepairRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// History lists recent runs, newest first.
func (s *RepairStore) History(ctx context.Context, limit int) ([]*RepairRun, error) {
	query := `
		SELECT id, source, triggered_by, status, broken_found, repaired, skipped, failed,
		       error_message, started_at, completed_at
		FROM repair_runs ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query repair runs: %w", err)
	}
	defer rows.Close()

	var out []*RepairRun
	for rows.Next() {
		run, err := scanRepairRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// RunStats lists the per-symlink detail rows for a run.
func (s *RepairStore) RunStats(ctx context.Context, runID int64) ([]*RepairStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, symlink_path, result, details, created_at
		FROM repair_stats WHERE run_id = ? ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query repair stats: %w", err)
	}
	defer rows.Close()

	var out []*RepairStat
	for rows.Next() {
		var st RepairStat
		var details sql.NullString
		if err := rows.Scan(&st.ID, &st.RunID, &st.SymlinkPath, &st.Result, &details, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan repair stat: %w", err)
		}
		st.Details = details.String
		out = append(out, &st)
	}
	return out, rows.Err()
}

// OrchestratorState reads the singleton toggle row.
func (s *RepairStore) OrchestratorState(ctx context.Context) (*OrchestratorState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT enabled, last_auto_run_at, updated_at FROM orchestrator_state WHERE id = 1
	`)

	var st OrchestratorState
	var lastAuto sql.NullTime
	if err := row.Scan(&st.Enabled, &lastAuto, &st.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan orchestrator state: %w", err)
	}
	st.LastAutoRunAt = nullTimePtr(lastAuto)
	return &st, nil
}

// SetOrchestratorEnabled persists the toggle.
func (s *RepairStore) SetOrchestratorEnabled(ctx context.Context, enabled bool, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orchestrator_state SET enabled = ?, updated_at = ? WHERE id = 1
	`, boolToInt(enabled), sqlTime(now))
	if err != nil {
		return fmt.Errorf("set orchestrator enabled: %w", err)
	}
	return nil
}

// TouchAutoRun stamps the last automatic run time.
func (s *RepairStore) TouchAutoRun(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orchestrator_state SET last_auto_run_at = ?, updated_at = ? WHERE id = 1
	`, sqlTime(now), sqlTime(now))
	if err != nil {
		return fmt.Errorf("touch auto run: %w", err)
	}
	return nil
}

func scanRepairRun(scanner sqlScanner) (*RepairRun, error) {
	var run RepairRun
	var errorMessage sql.NullString
	var completedAt sql.NullTime

	if err := scanner.Scan(
		&run.ID, &run.Source, &run.TriggeredBy, &run.Status,
		&run.BrokenFound, &run.Repaired, &run.Skipped, &run.Failed,
		&errorMessage, &run.StartedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	run.ErrorMessage = errorMessage.String
	run.CompletedAt = nullTimePtr(completedAt)
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
