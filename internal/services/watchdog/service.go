// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package watchdog is the continuous reconciliation loop: it selects
// eligible broken symlinks, tries the mirror strategy, escalates whole
// seasons, quarantines, and falls back to upstream searches through the
// action queue.
package watchdog

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/domain"
	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/services/actions"
	"github.com/relinkarr/relinkarr/internal/services/cinesync"
	"github.com/relinkarr/relinkarr/internal/services/relay"
	"github.com/relinkarr/relinkarr/pkg/fsutil"
	"github.com/relinkarr/relinkarr/pkg/mediapath"
)

// Summary is the structured result of one watchdog iteration.
type Summary struct {
	Candidates   int `json:"candidates"`
	Relinked     int `json:"relinked"`
	SeasonSweeps int `json:"seasonSweeps"`
	Episodes     int `json:"episodes"`
	Quarantined  int `json:"quarantined"`
	Manual       int `json:"manual"`
}

// groupKey identifies one (library, show, season) unit of escalation.
type groupKey struct {
	library string
	show    string
	season  int // -1 when unknown
}

// Service runs the reconciliation loop.
type Service struct {
	cfg        domain.WatchdogConfig
	symlinks   *models.SymlinkStore
	quarantine *models.QuarantineStore
	queue      *models.ActionStore
	matcher    *cinesync.Service
	relay      *relay.Client
	processor  *actions.Service

	now func() time.Time
}

// NewService creates a new watchdog.
func NewService(
	cfg domain.WatchdogConfig,
	symlinks *models.SymlinkStore,
	quarantine *models.QuarantineStore,
	queue *models.ActionStore,
	matcher *cinesync.Service,
	relayClient *relay.Client,
	processor *actions.Service,
) *Service {
	if cfg.RunLimit <= 0 {
		cfg.RunLimit = 50
	}
	if cfg.SeasonThreshold <= 0 {
		cfg.SeasonThreshold = 2
	}
	if cfg.MaxArrAttempts <= 0 {
		cfg.MaxArrAttempts = 3
	}
	return &Service{
		cfg:        cfg,
		symlinks:   symlinks,
		quarantine: quarantine,
		queue:      queue,
		matcher:    matcher,
		relay:      relayClient,
		processor:  processor,
		now:        time.Now,
	}
}

// Iterate runs one watchdog pass.
func (s *Service) Iterate(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	now := s.now()

	candidates, err := s.symlinks.GetBroken(ctx, models.BrokenFilter{
		EligibleOnly: true,
		Limit:        s.cfg.RunLimit,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		log.Debug().Msg("watchdog: nothing eligible")
		return summary, nil
	}

	// attempt-cap escalation happens before any strategy runs, and a capped
	// member poisons its whole (library, show, season) group: every member
	// goes manual and no strategy touches the group this pass
	eligible := make([]*models.SymlinkRecord, 0, len(candidates))
	capped := map[groupKey]bool{}
	checked := map[groupKey]bool{}
	for _, rec := range candidates {
		key := keyFor(rec)
		if !checked[key] {
			checked[key] = true
			isCapped, err := s.escalateCappedGroup(ctx, rec, summary)
			if err != nil {
				return summary, err
			}
			capped[key] = isCapped
		}
		if capped[key] {
			continue
		}
		eligible = append(eligible, rec)
	}

	// one representative per (library, show, season) per iteration keeps a
	// single title from monopolizing the pass
	representatives := dedupeByGroup(eligible)
	summary.Candidates = len(representatives)

	remainder := representatives
	if s.matcher.Configured() {
		remainder = remainder[:0:0]
		results := s.matcher.RepairBatch(ctx, representatives)
		for i, res := range results {
			if res.Outcome == cinesync.OutcomeReplaced {
				summary.Relinked++
				continue
			}
			remainder = append(remainder, representatives[i])
		}
	}

	if len(remainder) == 0 {
		return summary, nil
	}
	if !s.relay.Configured() {
		log.Warn().Msg("relay not configured, upstream strategy disabled for this iteration")
		return summary, nil
	}

	fired := map[string][]string{}
	for _, rec := range remainder {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if err := s.escalate(ctx, rec, summary, fired, now); err != nil {
			return summary, err
		}
	}

	if _, err := s.processor.Process(ctx, false); err != nil {
		return summary, fmt.Errorf("drain action queue: %w", err)
	}

	// a failed trigger escalates immediately instead of retrying forever
	for url, paths := range fired {
		action, err := s.queue.LatestByURL(ctx, url)
		if err != nil {
			return summary, err
		}
		if action == nil || action.Status != models.ActionStatusFailed {
			continue
		}
		for _, p := range paths {
			if err := s.symlinks.MarkManual(ctx, p, fmt.Sprintf("upstream trigger failed: %s", action.LastError)); err != nil {
				return summary, err
			}
			summary.Manual++
		}
	}

	log.Info().
		Int("candidates", summary.Candidates).
		Int("relinked", summary.Relinked).
		Int("seasonSweeps", summary.SeasonSweeps).
		Int("episodes", summary.Episodes).
		Int("quarantined", summary.Quarantined).
		Int("manual", summary.Manual).
		Msg("watchdog iteration finished")
	return summary, nil
}

// escalateCappedGroup checks rec's whole broken group against the attempt
// cap. When any member has hit it, every not-yet-manual member is marked
// manual and true is returned so the caller skips the group entirely.
func (s *Service) escalateCappedGroup(ctx context.Context, rec *models.SymlinkRecord, summary *Summary) (bool, error) {
	group, err := s.brokenGroup(ctx, rec)
	if err != nil {
		return false, err
	}

	hitCap := false
	for _, member := range group {
		if member.AttemptsArr >= s.cfg.MaxArrAttempts {
			hitCap = true
			break
		}
	}
	if !hitCap {
		return false, nil
	}

	reason := fmt.Sprintf("arr attempt limit reached (%d)", s.cfg.MaxArrAttempts)
	for _, member := range group {
		if member.ManualRequired {
			continue
		}
		if err := s.symlinks.MarkManual(ctx, member.Path, reason); err != nil {
			return true, err
		}
		summary.Manual++
	}
	log.Warn().Str("show", rec.Show).Str("library", rec.Library).Msg("escalated group to manual: attempt limit reached")
	return true, nil
}

// escalate drives the upstream strategy for one representative: a whole
// season when enough of it is broken, a single episode otherwise.
func (s *Service) escalate(ctx context.Context, rec *models.SymlinkRecord, summary *Summary, fired map[string][]string, now time.Time) error {
	route, ok := s.relay.RouteFor(rec.Path)
	if !ok {
		log.Debug().Str("path", rec.Path).Msg("no route for path, skipping")
		return nil
	}

	show := mediapath.CleanTitle(rec.Show)
	if show == "" {
		return nil
	}

	group, err := s.brokenGroup(ctx, rec)
	if err != nil {
		return err
	}

	// sticky manual rows never enter a sweep
	members := make([]*models.SymlinkRecord, 0, len(group))
	for _, member := range group {
		if member.ManualRequired {
			continue
		}
		members = append(members, member)
	}

	var scope relay.SearchScope
	var term string
	paths := []string{rec.Path}

	seasonSweep := rec.Season != nil && len(members) >= s.cfg.SeasonThreshold
	switch {
	case seasonSweep:
		scope = relay.ScopeSeason
		term = mediapath.SeasonTerm(show, *rec.Season)
		paths = paths[:0]
		for _, member := range members {
			paths = append(paths, member.Path)
			if s.quarantineMove(ctx, member, now) {
				summary.Quarantined++
			}
		}
		summary.SeasonSweeps++
	case rec.Season != nil && rec.Episode != nil:
		scope = relay.ScopeEpisode
		term = mediapath.EpisodeTerm(show, *rec.Season, *rec.Episode)
		summary.Episodes++
	default:
		scope = relay.ScopeMovie
		term = show
		summary.Episodes++
	}

	reqURL, err := s.relay.SearchURL(route.Type, scope, term)
	if err != nil {
		return err
	}
	created, err := s.queue.Enqueue(ctx, reqURL, fmt.Sprintf("watchdog %s search: %s", scope, term), rec.Path, now)
	if err != nil {
		return err
	}
	if created {
		log.Info().Str("term", term).Str("scope", string(scope)).Str("type", route.Type).Msg("queued upstream search")
	}
	fired[reqURL] = append(fired[reqURL], paths...)

	return s.symlinks.MarkStrategyAttempt(ctx, paths, models.StrategyArr, s.cfg.Cooldown(), now)
}

func (s *Service) brokenGroup(ctx context.Context, rec *models.SymlinkRecord) ([]*models.SymlinkRecord, error) {
	return s.symlinks.GetBrokenGroup(ctx, rec.Library, rec.Show, rec.Season)
}

// quarantineMove renames one broken symlink aside, then records it. The
// rename goes first so a failed move never leaves a phantom record.
func (s *Service) quarantineMove(ctx context.Context, rec *models.SymlinkRecord, now time.Time) bool {
	if s.cfg.QuarantineBase == "" {
		return false
	}

	qPath := filepath.Join(s.cfg.QuarantineBase, quarantineRelPath(rec))
	if err := os.MkdirAll(filepath.Dir(qPath), 0755); err != nil {
		log.Warn().Err(err).Str("path", rec.Path).Msg("quarantine mkdir failed")
		return false
	}
	if err := os.Rename(rec.Path, qPath); err != nil {
		// the quarantine base may live on another filesystem, where rename
		// fails with EXDEV; a symlink is cheap to recreate there instead
		if sameFS, fsErr := fsutil.SameFilesystem(filepath.Dir(rec.Path), filepath.Dir(qPath)); fsErr == nil && !sameFS {
			if err := recreateSymlinkAt(rec.Path, qPath); err != nil {
				log.Warn().Err(err).Str("path", rec.Path).Msg("cross-filesystem quarantine move failed")
				return false
			}
		} else {
			log.Warn().Err(err).Str("path", rec.Path).Msg("quarantine move failed")
			return false
		}
	}

	qrec := &models.QuarantineRecord{
		OriginalPath:   rec.Path,
		QuarantinePath: qPath,
		Library:        rec.Library,
		Show:           rec.Show,
		Season:         rec.Season,
		Episode:        rec.Episode,
	}
	if _, err := s.quarantine.Create(ctx, qrec, now); err != nil {
		log.Error().Err(err).Str("path", rec.Path).Msg("quarantine record failed after move")
		return false
	}

	log.Info().Str("path", rec.Path).Str("quarantine", qPath).Msg("quarantined broken symlink")
	return true
}

// recreateSymlinkAt moves a symlink across filesystems by recreating it
// with the same target and removing the original.
func recreateSymlinkAt(oldPath, newPath string) error {
	target, err := os.Readlink(oldPath)
	if err != nil {
		return fmt.Errorf("read link %s: %w", oldPath, err)
	}
	if err := os.Symlink(target, newPath); err != nil {
		return fmt.Errorf("create link %s: %w", newPath, err)
	}
	if err := os.Remove(oldPath); err != nil {
		return fmt.Errorf("remove link %s: %w", oldPath, err)
	}
	return nil
}

// quarantineRelPath mirrors the library layout under the quarantine base.
func quarantineRelPath(rec *models.SymlinkRecord) string {
	parts := []string{}
	if rec.Library != "" {
		parts = append(parts, rec.Library)
	}
	if rec.Show != "" {
		parts = append(parts, rec.Show)
	}
	if rec.Season != nil {
		parts = append(parts, fmt.Sprintf("Season %02d", *rec.Season))
	}
	parts = append(parts, filepath.Base(rec.Path))
	return filepath.Join(parts...)
}

func keyFor(rec *models.SymlinkRecord) groupKey {
	key := groupKey{library: rec.Library, show: strings.ToLower(rec.Show), season: -1}
	if rec.Season != nil {
		key.season = *rec.Season
	}
	return key
}

func dedupeByGroup(recs []*models.SymlinkRecord) []*models.SymlinkRecord {
	seen := map[groupKey]bool{}
	out := make([]*models.SymlinkRecord, 0, len(recs))
	for _, rec := range recs {
		key := keyFor(rec)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out
}

// Run iterates on the configured interval with jitter until ctx is
// canceled. A non-nil gate is consulted before each iteration so automatic
// runs can be toggled at runtime without restarting the loop.
func (s *Service) Run(ctx context.Context, gate func(context.Context) (bool, error)) error {
	interval := s.cfg.Interval()
	log.Info().Dur("interval", interval).Msg("watchdog started")

	for {
		jitter := time.Duration(rand.Int63n(int64(interval / 10)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval + jitter):
		}

		if gate != nil {
			enabled, err := gate(ctx)
			if err != nil {
				log.Error().Err(err).Msg("watchdog gate check failed")
				continue
			}
			if !enabled {
				log.Debug().Msg("watchdog iteration skipped, automatic runs disabled")
				continue
			}
		}

		if _, err := s.Iterate(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("watchdog iteration failed")
		}
	}
}
