// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package actions drains the pending action queue against the relay.
package actions

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/domain"
	"github.com/relinkarr/relinkarr/internal/models"
)

// queueStore is the subset of *models.ActionStore the processor needs.
type queueStore interface {
	ListPending(ctx context.Context, limit int) ([]*models.Action, error)
	MarkResult(ctx context.Context, id int64, ok bool, errMsg string, now time.Time) error
}

// httpGetter performs one outbound trigger call. *relay.Client satisfies it.
type httpGetter interface {
	Get(ctx context.Context, url string) error
}

// Summary is the structured result of one drain pass.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Service replays pending actions with pacing.
type Service struct {
	cfg    domain.ActionsConfig
	store  queueStore
	client httpGetter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a new actions processor.
func NewService(cfg domain.ActionsConfig, store queueStore, client httpGetter) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		client: client,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Process drains one bounded batch of pending actions. Each call gets the
// configured timeout via the client; successive calls are separated by the
// mandatory pace delay so the downstream service is never hammered.
func (s *Service) Process(ctx context.Context, dryRun bool) (*Summary, error) {
	pending, err := s.store.ListPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for i, action := range pending {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.Pace()); err != nil {
				return summary, err
			}
		}

		summary.Processed++

		if dryRun {
			log.Info().Int64("actionId", action.ID).Str("url", action.URL).Msg("dry-run: would fire action")
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
		callErr := s.client.Get(callCtx, action.URL)
		cancel()
		if callErr != nil && errors.Is(callErr, context.Canceled) {
			return summary, callErr
		}

		errMsg := ""
		if callErr != nil {
			errMsg = callErr.Error()
			summary.Failed++
			log.Warn().Err(callErr).Int64("actionId", action.ID).Str("path", action.RelatedPath).Msg("action delivery failed")
		} else {
			summary.Sent++
			log.Debug().Int64("actionId", action.ID).Msg("action delivered")
		}

		if err := s.store.MarkResult(ctx, action.ID, callErr == nil, errMsg, s.now()); err != nil {
			return summary, err
		}
	}

	if summary.Processed > 0 {
		log.Info().
			Int("processed", summary.Processed).
			Int("sent", summary.Sent).
			Int("failed", summary.Failed).
			Bool("dryRun", dryRun).
			Msg("action queue drained")
	}
	return summary, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
