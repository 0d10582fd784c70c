// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scanner walks the configured library roots and reconciles every
// symlink it finds into the status store.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/relinkarr/relinkarr/internal/domain"
	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/pkg/mediapath"
)

// ErrMountAbsent is returned when a required mount check path is missing.
// Callers must treat it as "storage unavailable", never as mass breakage.
var ErrMountAbsent = errors.New("required mount is absent")

// statusStore is the subset of *models.SymlinkStore the scanner needs.
type statusStore interface {
	BeginScan(ctx context.Context, roots []string, now time.Time) (int64, error)
	RecordObservations(ctx context.Context, scanID int64, batch []models.Observation, now time.Time) error
	FinalizeScan(ctx context.Context, scanID int64, agg models.ScanAggregates, now time.Time) error
}

// Summary is the structured result of one scan.
type Summary struct {
	ScanID   int64         `json:"scanId"`
	Roots    []string      `json:"roots"`
	Total    int           `json:"total"`
	Ok       int           `json:"ok"`
	Broken   int           `json:"broken"`
	Errors   int           `json:"errors"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Service scans library roots for symlink health.
type Service struct {
	cfg   domain.ScanConfig
	store statusStore

	// overridable for tests
	now func() time.Time
}

// NewService creates a new scanner service.
func NewService(cfg domain.ScanConfig, store statusStore) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Service{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// Scan performs one full pass over the configured roots.
//
// The mount checks run first: if any required path is missing the scan
// aborts before touching the store, so unmounted remote storage is never
// mistaken for mass breakage.
func (s *Service) Scan(ctx context.Context) (*Summary, error) {
	if len(s.cfg.Roots) == 0 {
		return nil, errors.New("no scan roots configured")
	}

	for _, check := range s.cfg.MountChecks {
		if _, err := os.Stat(check); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMountAbsent, check)
		}
	}

	started := s.now()
	scanID, err := s.store.BeginScan(ctx, s.cfg.Roots, started)
	if err != nil {
		return nil, fmt.Errorf("begin scan: %w", err)
	}

	log.Info().Int64("scanId", scanID).Strs("roots", s.cfg.Roots).Msg("scan started")

	summary := &Summary{ScanID: scanID, Roots: s.cfg.Roots}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, root := range s.cfg.Roots {
		g.Go(func() error {
			rs, err := s.scanRoot(gctx, scanID, root)
			if err != nil {
				return err
			}
			mu.Lock()
			summary.Total += rs.Total
			summary.Ok += rs.Ok
			summary.Broken += rs.Broken
			summary.Errors += rs.Errors
			summary.Skipped += rs.Skipped
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	agg := models.ScanAggregates{
		Total:  summary.Total,
		Ok:     summary.Ok,
		Broken: summary.Broken,
		Errors: summary.Errors,
	}
	if err := s.store.FinalizeScan(ctx, scanID, agg, s.now()); err != nil {
		return nil, fmt.Errorf("finalize scan: %w", err)
	}

	summary.Duration = s.now().Sub(started)
	log.Info().
		Int64("scanId", scanID).
		Int("total", summary.Total).
		Int("ok", summary.Ok).
		Int("broken", summary.Broken).
		Int("errors", summary.Errors).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("scan finished")

	return summary, nil
}

type rootSummary struct {
	Total, Ok, Broken, Errors, Skipped int
}

func (s *Service) scanRoot(ctx context.Context, scanID int64, root string) (*rootSummary, error) {
	rs := &rootSummary{}
	batch := make([]models.Observation, 0, s.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.RecordObservations(ctx, scanID, batch, s.now()); err != nil {
			return fmt.Errorf("record observations: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// a vanished or unreadable entry skips the entry, not the scan
			log.Warn().Err(err).Str("path", path).Msg("walk error, skipping entry")
			rs.Skipped++
			return nil
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink == 0 {
			return nil
		}

		obs, retained := s.observe(root, path)
		if !retained {
			rs.Skipped++
			return nil
		}

		rs.Total++
		switch obs.Status {
		case models.SymlinkStatusOk:
			rs.Ok++
		case models.SymlinkStatusBroken:
			rs.Broken++
		case models.SymlinkStatusError:
			rs.Errors++
		}

		batch = append(batch, obs)
		if len(batch) >= s.cfg.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// a missing root is a skipped root, not a failed scan
		log.Error().Err(err).Str("root", root).Msg("root walk failed")
		return rs, flush()
	}

	return rs, flush()
}

// observe classifies one symlink and resolves its target.
func (s *Service) observe(root, path string) (models.Observation, bool) {
	for _, sub := range s.cfg.IgnoreSubstrings {
		if sub != "" && strings.Contains(path, sub) {
			return models.Observation{}, false
		}
	}

	info := mediapath.Classify(root, path)
	if len(s.cfg.Extensions) > 0 && !s.extensionAllowed(info.Ext) {
		return models.Observation{}, false
	}

	obs := models.Observation{
		Path:    path,
		Library: info.Library,
		Show:    info.Show,
		Ext:     info.Ext,
	}
	if info.Season >= 0 {
		season := info.Season
		obs.Season = &season
	}
	if info.Episode >= 0 {
		episode := info.Episode
		obs.Episode = &episode
	}

	target, err := os.Readlink(path)
	if err != nil {
		obs.Status = models.SymlinkStatusError
		return obs, true
	}
	obs.Target = target

	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(path), resolved)
	}
	if _, err := os.Stat(resolved); err != nil {
		obs.Status = models.SymlinkStatusBroken
	} else {
		obs.Status = models.SymlinkStatusOk
	}
	return obs, true
}

func (s *Service) extensionAllowed(ext string) bool {
	for _, allowed := range s.cfg.Extensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// RunLoop scans on the configured interval until ctx is canceled. A mount
// absence is logged and waited out rather than treated as fatal.
func (s *Service) RunLoop(ctx context.Context) error {
	interval := s.cfg.Interval()
	log.Info().Dur("interval", interval).Msg("scan loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Scan(ctx); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return err
			case errors.Is(err, ErrMountAbsent):
				log.Warn().Err(err).Msg("skipping scan until mount returns")
			default:
				log.Error().Err(err).Msg("scan failed")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
