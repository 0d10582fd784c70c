// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cinesync indexes the mirror library tree and relinks broken
// symlinks to replacement targets found there.
package cinesync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/domain"
	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/pkg/mediapath"
)

// categoryDirs are the mirror's top-level library categories.
var categoryDirs = []string{"Shows", "4KShows", "AnimeShows", "Movies", "4KMovies", "AnimeMovies"}

// Outcome is the per-item result of a repair attempt.
type Outcome string

const (
	OutcomeReplaced Outcome = "replaced"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Result is one repair decision for a broken symlink.
type Result struct {
	Path      string  `json:"path"`
	Outcome   Outcome `json:"outcome"`
	Detail    string  `json:"detail,omitempty"`
	NewTarget string  `json:"newTarget,omitempty"`
}

// mirrorStore is the subset of *models.CinesyncStore the matcher needs.
type mirrorStore interface {
	Upsert(ctx context.Context, item *models.CinesyncItem, now time.Time) error
	FindByTMDB(ctx context.Context, tmdbID int, season, episode *int) ([]*models.CinesyncItem, error)
	FindByNormTitle(ctx context.Context, showNorm string, season, episode *int) ([]*models.CinesyncItem, error)
	DistinctTitles(ctx context.Context) ([]string, error)
}

// Service is the mirror matcher.
type Service struct {
	cfg   domain.CineSyncConfig
	store mirrorStore

	now func() time.Time
}

// NewService creates a new cinesync matcher.
func NewService(cfg domain.CineSyncConfig, store mirrorStore) *Service {
	return &Service{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// Configured reports whether a mirror base is set.
func (s *Service) Configured() bool {
	return s.cfg.Base != ""
}

// Reindex walks the mirror tree and refreshes the index, returning the
// number of files indexed.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if !s.Configured() {
		return 0, fmt.Errorf("cinesync base not configured")
	}

	indexed := 0
	for _, category := range categoryDirs {
		categoryPath := filepath.Join(s.cfg.Base, category)
		shows, err := os.ReadDir(categoryPath)
		if err != nil {
			// categories are optional per deployment
			continue
		}

		for _, showDir := range shows {
			if ctx.Err() != nil {
				return indexed, ctx.Err()
			}
			if !showDir.IsDir() {
				continue
			}

			n, err := s.indexShow(ctx, filepath.Join(categoryPath, showDir.Name()), showDir.Name())
			if err != nil {
				log.Warn().Err(err).Str("show", showDir.Name()).Msg("mirror show index failed, continuing")
				continue
			}
			indexed += n
		}
	}

	log.Info().Int("indexed", indexed).Str("base", s.cfg.Base).Msg("mirror reindex finished")
	return indexed, nil
}

func (s *Service) indexShow(ctx context.Context, showPath, showDirName string) (int, error) {
	title := mediapath.CleanTitle(showDirName)
	norm := mediapath.NormalizeTitle(title)

	var tmdbID *int
	if id, ok := mediapath.ParseTMDBID(showDirName); ok {
		v := int(id)
		tmdbID = &v
	}
	var year *int
	if y, ok := mediapath.ParseYear(showDirName); ok {
		year = &y
	}

	indexed := 0
	err := filepath.WalkDir(showPath, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are skipped
		}

		info := mediapath.Classify(s.cfg.Base, path)
		item := &models.CinesyncItem{
			Path:           path,
			TMDBID:         tmdbID,
			ShowTitle:      title,
			ShowNorm:       norm,
			Year:           year,
			ResolutionRank: mediapath.ResolutionRank(d.Name()),
			TargetOk:       s.targetResolves(path),
		}
		if info.Season >= 0 {
			season := info.Season
			item.Season = &season
		}
		if info.Episode >= 0 {
			episode := info.Episode
			item.Episode = &episode
		}

		if err := s.store.Upsert(ctx, item, s.now()); err != nil {
			return err
		}
		indexed++
		return nil
	})
	return indexed, err
}

// targetResolves reports whether dereferencing path ends at a real file.
func (s *Service) targetResolves(path string) bool {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	fi, err := os.Stat(real)
	return err == nil && !fi.IsDir()
}

// Match finds the best replacement candidate for a broken record:
// identifier match first, exact normalized title second, unambiguous fuzzy
// title third; within a match set the highest resolution whose dereferenced
// target still resolves wins. Returns nil when nothing qualifies.
func (s *Service) Match(ctx context.Context, rec *models.SymlinkRecord) (*models.CinesyncItem, error) {
	if rec.Show == "" {
		return nil, nil
	}

	if id, ok := mediapath.ParseTMDBID(rec.Show); ok {
		items, err := s.store.FindByTMDB(ctx, int(id), rec.Season, rec.Episode)
		if err != nil {
			return nil, err
		}
		return s.firstResolvable(items), nil
	}

	norm := mediapath.NormalizeTitle(mediapath.CleanTitle(rec.Show))
	items, err := s.store.FindByNormTitle(ctx, norm, rec.Season, rec.Episode)
	if err != nil {
		return nil, err
	}
	if best := s.firstResolvable(items); best != nil {
		return best, nil
	}

	fuzzyNorm, err := s.fuzzyTitle(ctx, norm)
	if err != nil || fuzzyNorm == "" {
		return nil, err
	}
	items, err = s.store.FindByNormTitle(ctx, fuzzyNorm, rec.Season, rec.Episode)
	if err != nil {
		return nil, err
	}
	return s.firstResolvable(items), nil
}

// fuzzyTitle finds a single unambiguous close title match. Ambiguity means
// skip: a wrong relink is worse than a broken link.
func (s *Service) fuzzyTitle(ctx context.Context, norm string) (string, error) {
	titles, err := s.store.DistinctTitles(ctx)
	if err != nil {
		return "", err
	}

	ranks := fuzzy.RankFindNormalizedFold(norm, titles)
	if len(ranks) == 0 {
		return "", nil
	}

	best := ranks[0]
	ambiguous := false
	for _, r := range ranks[1:] {
		if r.Distance < best.Distance {
			best = r
			ambiguous = false
		} else if r.Distance == best.Distance && r.Target != best.Target {
			ambiguous = true
		}
	}
	if ambiguous {
		log.Debug().Str("title", norm).Msg("fuzzy title match ambiguous, skipping")
		return "", nil
	}
	return best.Target, nil
}

func (s *Service) firstResolvable(items []*models.CinesyncItem) *models.CinesyncItem {
	for _, item := range items {
		if s.targetResolves(item.Path) {
			return item
		}
	}
	return nil
}

// Repair attempts to relink one broken symlink from the mirror.
//
// The candidate is dereferenced to its ultimate real file so a repaired
// link never points at another symlink, and the real path must fall under
// an allow-listed prefix or the replacement is refused.
func (s *Service) Repair(ctx context.Context, rec *models.SymlinkRecord) Result {
	res := Result{Path: rec.Path, Outcome: OutcomeSkipped}

	candidate, err := s.Match(ctx, rec)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Detail = fmt.Sprintf("match failed: %v", err)
		return res
	}
	if candidate == nil {
		res.Detail = "no mirror candidate"
		return res
	}

	real, err := filepath.EvalSymlinks(candidate.Path)
	if err != nil {
		res.Detail = fmt.Sprintf("candidate target vanished: %v", err)
		return res
	}
	if !s.allowedTarget(real) {
		res.Detail = fmt.Sprintf("real target outside allowed prefixes: %s", real)
		return res
	}

	if s.cfg.DryRun {
		res.Outcome = OutcomeReplaced
		res.NewTarget = real
		res.Detail = "dry-run"
		log.Info().Str("path", rec.Path).Str("target", real).Msg("dry-run: would relink")
		return res
	}

	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		res.Detail = fmt.Sprintf("unlink failed: %v", err)
		return res
	}
	if err := os.Symlink(real, rec.Path); err != nil {
		res.Detail = fmt.Sprintf("symlink failed: %v", err)
		return res
	}

	res.Outcome = OutcomeReplaced
	res.NewTarget = real
	log.Info().Str("path", rec.Path).Str("target", real).Msg("relinked from mirror")
	return res
}

// RepairBatch runs Repair over records; nothing in the batch is fatal.
func (s *Service) RepairBatch(ctx context.Context, recs []*models.SymlinkRecord) []Result {
	results := make([]Result, 0, len(recs))
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		results = append(results, s.Repair(ctx, rec))
	}
	return results
}

func (s *Service) allowedTarget(real string) bool {
	for _, prefix := range s.cfg.AllowedTargetPrefixes {
		p := strings.TrimRight(prefix, "/")
		if p != "" && (real == p || strings.HasPrefix(real, p+"/")) {
			return true
		}
	}
	return false
}
