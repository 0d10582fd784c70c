// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package orchestrator sequences repair strategies into recorded runs.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/domain"
	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/services/actions"
	"github.com/relinkarr/relinkarr/internal/services/cinesync"
	"github.com/relinkarr/relinkarr/internal/services/relay"
	"github.com/relinkarr/relinkarr/internal/services/scanner"
	"github.com/relinkarr/relinkarr/pkg/mediapath"
)

// Summary is the outcome of an orchestrated repair.
type Summary struct {
	CinesyncRun *models.RepairRun `json:"cinesyncRun,omitempty"`
	ArrRun      *models.RepairRun `json:"arrRun,omitempty"`
	Rescanned   bool              `json:"rescanned"`
}

// Service drives repair runs over the currently broken set.
type Service struct {
	cfg       *domain.Config
	symlinks  *models.SymlinkStore
	repairs   *models.RepairStore
	queue     *models.ActionStore
	matcher   *cinesync.Service
	relay     *relay.Client
	processor *actions.Service
	scanner   *scanner.Service

	now func() time.Time
}

// NewService creates a new repair orchestrator. scanner may be nil, in which
// case orchestrated runs skip the trailing rescan.
func NewService(
	cfg *domain.Config,
	symlinks *models.SymlinkStore,
	repairs *models.RepairStore,
	queue *models.ActionStore,
	matcher *cinesync.Service,
	relayClient *relay.Client,
	processor *actions.Service,
	scan *scanner.Service,
) *Service {
	return &Service{
		cfg:       cfg,
		symlinks:  symlinks,
		repairs:   repairs,
		queue:     queue,
		matcher:   matcher,
		relay:     relayClient,
		processor: processor,
		scanner:   scan,
		now:       time.Now,
	}
}

// Enabled reads the persisted automatic-run toggle.
func (s *Service) Enabled(ctx context.Context) (bool, error) {
	state, err := s.repairs.OrchestratorState(ctx)
	if err != nil {
		return false, err
	}
	return state.Enabled, nil
}

// SetEnabled persists the automatic-run toggle. Manual runs ignore it.
func (s *Service) SetEnabled(ctx context.Context, enabled bool) error {
	return s.repairs.SetOrchestratorEnabled(ctx, enabled, s.now())
}

// RunCinesync runs the mirror strategy over all currently broken paths.
func (s *Service) RunCinesync(ctx context.Context, trigger models.RepairTrigger) (*models.RepairRun, error) {
	runID, err := s.repairs.CreateRun(ctx, string(models.StrategyCinesync), trigger, s.now())
	if err != nil {
		return nil, err
	}

	counts, runErr := s.runCinesyncBody(ctx, runID)
	return s.finish(ctx, runID, counts, runErr)
}

func (s *Service) runCinesyncBody(ctx context.Context, runID int64) (models.RepairCounts, error) {
	counts := models.RepairCounts{}

	if !s.matcher.Configured() {
		log.Warn().Msg("cinesync base not configured, strategy disabled for this run")
		return counts, nil
	}

	if _, err := s.matcher.Reindex(ctx); err != nil {
		return counts, fmt.Errorf("mirror reindex: %w", err)
	}

	broken, err := s.symlinks.GetBroken(ctx, models.BrokenFilter{Limit: s.cfg.CineSync.Limit})
	if err != nil {
		return counts, err
	}
	counts.BrokenFound = len(broken)

	results := s.matcher.RepairBatch(ctx, broken)
	attempted := make([]string, 0, len(results))
	for _, res := range results {
		attempted = append(attempted, res.Path)
		switch res.Outcome {
		case cinesync.OutcomeReplaced:
			counts.Repaired++
		case cinesync.OutcomeSkipped:
			counts.Skipped++
		case cinesync.OutcomeFailed:
			counts.Failed++
		}
		if err := s.repairs.AddStat(ctx, runID, res.Path, string(res.Outcome), res.Detail, s.now()); err != nil {
			return counts, err
		}
	}

	if !s.cfg.CineSync.DryRun {
		if err := s.symlinks.MarkStrategyAttempt(ctx, attempted, models.StrategyCinesync, s.cfg.Watchdog.Cooldown(), s.now()); err != nil {
			return counts, err
		}
	}
	return counts, ctx.Err()
}

// RunArr enqueues one search per remaining broken item through the route
// table and drains the queue.
func (s *Service) RunArr(ctx context.Context, trigger models.RepairTrigger) (*models.RepairRun, error) {
	runID, err := s.repairs.CreateRun(ctx, string(models.StrategyArr), trigger, s.now())
	if err != nil {
		return nil, err
	}

	counts, runErr := s.runArrBody(ctx, runID)
	return s.finish(ctx, runID, counts, runErr)
}

func (s *Service) runArrBody(ctx context.Context, runID int64) (models.RepairCounts, error) {
	counts := models.RepairCounts{}

	if !s.relay.Configured() {
		log.Warn().Msg("relay not configured, arr strategy disabled for this run")
		return counts, nil
	}

	broken, err := s.symlinks.GetBroken(ctx, models.BrokenFilter{Limit: s.cfg.Watchdog.RunLimit})
	if err != nil {
		return counts, err
	}
	counts.BrokenFound = len(broken)

	enqueued := make([]string, 0, len(broken))
	for _, rec := range broken {
		scope, term, ok := SearchFor(rec)
		if !ok {
			counts.Skipped++
			if err := s.repairs.AddStat(ctx, runID, rec.Path, "skipped", "no usable show metadata", s.now()); err != nil {
				return counts, err
			}
			continue
		}

		route, ok := s.relay.RouteFor(rec.Path)
		if !ok {
			counts.Skipped++
			if err := s.repairs.AddStat(ctx, runID, rec.Path, "skipped", "no route for path", s.now()); err != nil {
				return counts, err
			}
			continue
		}

		reqURL, err := s.relay.SearchURL(route.Type, scope, term)
		if err != nil {
			return counts, err
		}
		if _, err := s.queue.Enqueue(ctx, reqURL, fmt.Sprintf("%s search: %s", scope, term), rec.Path, s.now()); err != nil {
			return counts, err
		}
		enqueued = append(enqueued, rec.Path)
	}

	result, err := s.processor.Process(ctx, false)
	if err != nil {
		return counts, fmt.Errorf("drain action queue: %w", err)
	}
	counts.Repaired = result.Sent
	counts.Failed = result.Failed

	if err := s.symlinks.MarkStrategyAttempt(ctx, enqueued, models.StrategyArr, s.cfg.Watchdog.Cooldown(), s.now()); err != nil {
		return counts, err
	}
	return counts, ctx.Err()
}

// RunOrchestrated is the composite repair: mirror strategy, then the arr
// strategy over what remains, then one rescan so consumers observe fresh
// state immediately.
func (s *Service) RunOrchestrated(ctx context.Context, trigger models.RepairTrigger) (*Summary, error) {
	summary := &Summary{}

	run, err := s.RunCinesync(ctx, trigger)
	if err != nil {
		return summary, err
	}
	summary.CinesyncRun = run

	run, err = s.RunArr(ctx, trigger)
	if err != nil {
		return summary, err
	}
	summary.ArrRun = run

	if s.scanner != nil {
		if _, err := s.scanner.Scan(ctx); err != nil {
			log.Warn().Err(err).Msg("post-repair rescan failed")
		} else {
			summary.Rescanned = true
		}
	}

	if trigger != models.RepairTriggerManual {
		if err := s.repairs.TouchAutoRun(ctx, s.now()); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (s *Service) finish(ctx context.Context, runID int64, counts models.RepairCounts, runErr error) (*models.RepairRun, error) {
	if runErr != nil {
		if err := s.repairs.FailRun(ctx, runID, counts, runErr.Error(), s.now()); err != nil {
			log.Error().Err(err).Int64("runId", runID).Msg("failed to mark run failed")
		}
		return nil, runErr
	}
	if err := s.repairs.CompleteRun(ctx, runID, counts, s.now()); err != nil {
		return nil, err
	}
	return s.repairs.GetRun(ctx, runID)
}

// SearchFor derives the search scope and term for a broken record. Season
// metadata narrows the scope: episode before season before movie.
func SearchFor(rec *models.SymlinkRecord) (relay.SearchScope, string, bool) {
	if rec.Show == "" {
		return "", "", false
	}
	show := mediapath.CleanTitle(rec.Show)
	if show == "" {
		return "", "", false
	}

	switch {
	case rec.Season != nil && rec.Episode != nil:
		return relay.ScopeEpisode, mediapath.EpisodeTerm(show, *rec.Season, *rec.Episode), true
	case rec.Season != nil:
		return relay.ScopeSeason, mediapath.SeasonTerm(show, *rec.Season), true
	default:
		return relay.ScopeMovie, show, true
	}
}
