// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package orchestrator_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relinkarr/relinkarr/internal/domain"
	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/services/actions"
	"github.com/relinkarr/relinkarr/internal/services/cinesync"
	"github.com/relinkarr/relinkarr/internal/services/orchestrator"
	"github.com/relinkarr/relinkarr/internal/services/relay"
	"github.com/relinkarr/relinkarr/internal/testdb"
)

func intPtr(v int) *int { return &v }

func writeFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func symlink(t *testing.T, target, link string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0755))
	require.NoError(t, os.Symlink(target, link))
	return link
}

func resolved(t *testing.T, dir string) string {
	t.Helper()
	r, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return r
}

type fixture struct {
	svc      *orchestrator.Service
	symlinks *models.SymlinkStore
	repairs  *models.RepairStore
	queue    *models.ActionStore

	library string
	mirror  string
	remote  string
}

func setup(t *testing.T, relayURL string) *fixture {
	t.Helper()
	db := testdb.Open(t, "orchestrator")

	library := t.TempDir()
	mirror := t.TempDir()
	remote := resolved(t, t.TempDir())

	cfg := &domain.Config{
		CineSync: domain.CineSyncConfig{
			Base:                  mirror,
			AllowedTargetPrefixes: []string{remote},
			Limit:                 50,
		},
		Relay: domain.RelayConfig{
			BaseURL: relayURL,
			Token:   "secret",
			Routes: []domain.Route{
				{Prefix: filepath.Join(library, "tv"), Type: "sonarr_tv"},
			},
		},
		Actions: domain.ActionsConfig{PaceMillis: 1},
	}

	symlinks := models.NewSymlinkStore(db)
	repairs := models.NewRepairStore(db)
	queue := models.NewActionStore(db)
	relayClient := relay.NewClient(cfg.Relay)
	processor := actions.NewService(cfg.Actions, queue, relayClient)
	matcher := cinesync.NewService(cfg.CineSync, models.NewCinesyncStore(db))

	svc := orchestrator.NewService(cfg, symlinks, repairs, queue, matcher, relayClient, processor, nil)

	return &fixture{
		svc:      svc,
		symlinks: symlinks,
		repairs:  repairs,
		queue:    queue,
		library:  library,
		mirror:   mirror,
		remote:   remote,
	}
}

// recordBroken observes one broken episode link backed by a real symlink.
func (f *fixture) recordBroken(t *testing.T, show string, season, episode int) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Add(-time.Hour)

	name := fmt.Sprintf("%s S%02dE%02d.mkv", show, season, episode)
	link := symlink(t, "/nowhere/"+name, filepath.Join(f.library, "tv", show, "Season 01", name))

	scanID, err := f.symlinks.BeginScan(ctx, []string{f.library}, now)
	require.NoError(t, err)
	require.NoError(t, f.symlinks.RecordObservation(ctx, scanID, models.Observation{
		Path:    link,
		Status:  models.SymlinkStatusBroken,
		Library: "tv",
		Show:    show,
		Season:  intPtr(season),
		Episode: intPtr(episode),
		Ext:     ".mkv",
	}, now))
	return link
}

func TestRunCinesync_RepairsFromMirror(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "")

	show := "Breaking Slow {tmdb-12345}"
	link := f.recordBroken(t, show, 1, 1)

	real := writeFile(t, filepath.Join(f.remote, "store", "bs.s01e01.1080p.mkv"))
	symlink(t, real, filepath.Join(f.mirror, "Shows", "Breaking Slow (2019) {tmdb-12345}", "Season 01", "Breaking Slow S01E01 1080p.mkv"))

	run, err := f.svc.RunCinesync(ctx, models.RepairTriggerManual)
	require.NoError(t, err)

	assert.Equal(t, models.RepairRunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.BrokenFound)
	assert.Equal(t, 1, run.Repaired)

	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, real, target)

	stats, err := f.repairs.RunStats(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "replaced", stats[0].Result)

	rec, err := f.symlinks.GetByPath(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AttemptsCine)
}

func TestRunCinesync_UnconfiguredMirrorCompletesEmpty(t *testing.T) {
	ctx := context.Background()

	db := testdb.Open(t, "orchestrator")
	symlinks := models.NewSymlinkStore(db)
	repairs := models.NewRepairStore(db)
	queue := models.NewActionStore(db)
	relayClient := relay.NewClient(domain.RelayConfig{})
	processor := actions.NewService(domain.ActionsConfig{PaceMillis: 1}, queue, relayClient)
	matcher := cinesync.NewService(domain.CineSyncConfig{}, models.NewCinesyncStore(db))
	svc := orchestrator.NewService(&domain.Config{}, symlinks, repairs, queue, matcher, relayClient, processor, nil)

	run, err := svc.RunCinesync(ctx, models.RepairTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RepairRunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.BrokenFound)
}

func TestRunArr_EnqueuesAndDrains(t *testing.T) {
	ctx := context.Background()

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := setup(t, server.URL)
	link := f.recordBroken(t, "Lonely Show", 1, 4)

	run, err := f.svc.RunArr(ctx, models.RepairTriggerManual)
	require.NoError(t, err)

	assert.Equal(t, models.RepairRunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.BrokenFound)
	assert.Equal(t, 1, run.Repaired, "sent triggers count as repaired for the run")
	assert.Equal(t, 1, requests)

	queued, err := f.queue.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, models.ActionStatusSent, queued[0].Status)

	rec, err := f.symlinks.GetByPath(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AttemptsArr)
	require.NotNil(t, rec.NextRetryAt)
}

func TestRunOrchestrated_TouchesAutoRunOnlyForAutoTrigger(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "")

	_, err := f.svc.RunOrchestrated(ctx, models.RepairTriggerManual)
	require.NoError(t, err)

	state, err := f.repairs.OrchestratorState(ctx)
	require.NoError(t, err)
	assert.Nil(t, state.LastAutoRunAt)

	_, err = f.svc.RunOrchestrated(ctx, models.RepairTriggerAuto)
	require.NoError(t, err)

	state, err = f.repairs.OrchestratorState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.LastAutoRunAt)
}
