// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/testdb"
)

func intPtr(v int) *int { return &v }

func TestSymlinkStore_RecordObservation_CountersMonotonic(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "models")
	store := models.NewSymlinkStore(db)

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scanID, err := store.BeginScan(ctx, []string{"/media/tv"}, t0)
	require.NoError(t, err)

	obs := models.Observation{
		Path:    "/media/tv/Show/Season 02/Show S02E05.mkv",
		Target:  "/mnt/remote/show/s02e05.mkv",
		Status:  models.SymlinkStatusOk,
		Library: "tv",
		Show:    "Show",
		Season:  intPtr(2),
		Episode: intPtr(5),
		Ext:     ".mkv",
	}

	for i := range 3 {
		require.NoError(t, store.RecordObservation(ctx, scanID, obs, t0.Add(time.Duration(i)*time.Minute)))
	}

	rec, err := store.GetByPath(ctx, obs.Path)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 3, rec.SeenCount)
	assert.Equal(t, 3, rec.OkCount)
	assert.Equal(t, 0, rec.BrokenCount)
	assert.Equal(t, t0, rec.FirstSeenAt.UTC())
	assert.Equal(t, t0.Add(2*time.Minute), rec.LastSeenAt.UTC())
}

func TestSymlinkStore_RecordObservation_EventOnChangeOnly(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "models")
	store := models.NewSymlinkStore(db)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scanID, err := store.BeginScan(ctx, []string{"/media/tv"}, now)
	require.NoError(t, err)

	path := "/media/tv/Show/Season 01/ep.mkv"
	obs := models.Observation{Path: path, Status: models.SymlinkStatusOk}

	require.NoError(t, store.RecordObservation(ctx, scanID, obs, now))
	require.NoError(t, store.RecordObservation(ctx, scanID, obs, now.Add(time.Minute)))

	obs.Status = models.SymlinkStatusBroken
	require.NoError(t, store.RecordObservation(ctx, scanID, obs, now.Add(2*time.Minute)))
	require.NoError(t, store.RecordObservation(ctx, scanID, obs, now.Add(3*time.Minute)))

	events, err := store.EventsForPath(ctx, path, 0)
	require.NoError(t, err)
	// nil -> ok, ok -> broken; repeated identical observations append nothing
	require.Len(t, events, 2)
	assert.Equal(t, models.SymlinkStatusBroken, events[0].NewStatus)
	assert.Equal(t, models.SymlinkStatusOk, events[0].OldStatus)
	assert.Equal(t, models.SymlinkStatusOk, events[1].NewStatus)
	assert.Empty(t, events[1].OldStatus)
}

func TestSymlinkStore_RecordObservation_MetadataMergeKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "models")
	store := models.NewSymlinkStore(db)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scanID, err := store.BeginScan(ctx, []string{"/media/tv"}, now)
	require.NoError(t, err)

	path := "/media/tv/Show/Season 02/ep.mkv"
	require.NoError(t, store.RecordObservation(ctx, scanID, models.Observation{
		Path: path, Status: models.SymlinkStatusOk,
		Library: "tv", Show: "Show", Season: intPtr(2), Episode: intPtr(5),
	}, now))

	// a transient parse failure carries no metadata
	require.NoError(t, store.RecordObservation(ctx, scanID, models.Observation{
		Path: path, Status: models.SymlinkStatusBroken,
	}, now.Add(time.Minute)))

	rec, err := store.GetByPath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Show", rec.Show)
	require.NotNil(t, rec.Season)
	assert.Equal(t, 2, *rec.Season)
	require.NotNil(t, rec.Episode)
	assert.Equal(t, 5, *rec.Episode)
}

func TestSymlinkStore_FinalizeScan_ExactlyOnceAndSoftHide(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "models")
	store := models.NewSymlinkStore(db)

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	firstScan, err := store.BeginScan(ctx, []string{"/media/tv"}, t0)
	require.NoError(t, err)

	stale := "/media/tv/Gone/Season 01/ep.mkv"
	kept := "/media/tv/Show/Season 01/ep.mkv"
	other := "/media/movies/Film (2020)/film.mkv"
	require.NoError(t, store.RecordObservation(ctx, firstScan, models.Observation{Path: stale, Status: models.SymlinkStatusOk}, t0))
	require.NoError(t, store.RecordObservation(ctx, firstScan, models.Observation{Path: kept, Status: models.SymlinkStatusOk}, t0))
	require.NoError(t, store.RecordObservation(ctx, firstScan, models.Observation{Path: other, Status: models.SymlinkStatusOk}, t0))
	require.NoError(t, store.FinalizeScan(ctx, firstScan, models.ScanAggregates{Total: 3, Ok: 3}, t0.Add(time.Minute)))

	t1 := t0.Add(time.Hour)
	secondScan, err := store.BeginScan(ctx, []string{"/media/tv"}, t1)
	require.NoError(t, err)
	require.NoError(t, store.RecordObservation(ctx, secondScan, models.Observation{Path: kept, Status: models.SymlinkStatusOk}, t1))
	require.NoError(t, store.FinalizeScan(ctx, secondScan, models.ScanAggregates{Total: 1, Ok: 1}, t1.Add(time.Minute)))

	// unobserved row under the scanned root is hidden, not deleted
	rec, err := store.GetByPath(ctx, stale)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Current)

	rec, err = store.GetByPath(ctx, kept)
	require.NoError(t, err)
	assert.True(t, rec.Current)

	// a row outside the scanned roots is untouched
	rec, err = store.GetByPath(ctx, other)
	require.NoError(t, err)
	assert.True(t, rec.Current)

	err = store.FinalizeScan(ctx, secondScan, models.ScanAggregates{}, t1.Add(2*time.Minute))
	require.ErrorIs(t, err, models.ErrScanAlreadyFinalized)

	run, err := store.GetScanRun(ctx, secondScan)
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 1, run.Total)
}

func TestSymlinkStore_OkObservationResolvesQuarantine(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "models")
	store := models.NewSymlinkStore(db)
	quarantine := models.NewQuarantineStore(db)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	path := "/media/tv/Show/Season 01/ep.mkv"

	_, err := quarantine.Create(ctx, &models.QuarantineRecord{
		OriginalPath:   path,
		QuarantinePath: "/quarantine/tv/Show/Season 01/ep.mkv",
		Show:           "Show",
	}, now)
	require.NoError(t, err)

	scanID, err := store.BeginScan(ctx, []string{"/media/tv"}, now)
	require.NoError(t, err)
	require.NoError(t, store.RecordObservation(ctx, scanID, models.Observation{
		Path: path, Status: models.SymlinkStatusOk,
	}, now.Add(time.Minute)))

	open, err := quarantine.ListOpen(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSymlinkStore_GetBroken_Eligibility(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "models")
	store := models.NewSymlinkStore(db)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scanID, err := store.BeginScan(ctx, []string{"/media/tv"}, now)
	require.NoError(t, err)

	observe := func(path string, at time.Time) {
		t.Helper()
		require.NoError(t, store.RecordObservation(ctx, scanID, models.Observation{
			Path: path, Status: models.SymlinkStatusBroken, Library: "tv",
		}, at))
	}

	oldest := "/media/tv/A/Season 01/a.mkv"
	newest := "/media/tv/B/Season 01/b.mkv"
	manual := "/media/tv/C/Season 01/c.mkv"
	cooling := "/media/tv/D/Season 01/d.mkv"
	observe(oldest, now)
	observe(newest, now.Add(10*time.Minute))
	observe(manual, now)
	observe(cooling, now)

	require.NoError(t, store.MarkManual(ctx, manual, "attempt limit reached"))
	require.NoError(t, store.MarkStrategyAttempt(ctx, []string{cooling}, models.StrategyArr, 6*time.Hour, now))

	broken, err := store.GetBroken(ctx, models.BrokenFilter{
		EligibleOnly: true,
		Now:          now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, broken, 2)
	assert.Equal(t, oldest, broken[0].Path)
	assert.Equal(t, newest, broken[1].Path)

	// cooldown elapsed
	broken, err = store.GetBroken(ctx, models.BrokenFilter{
		EligibleOnly: true,
		Now:          now.Add(7 * time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, broken, 3)

	// manual stays excluded until cleared
	require.NoError(t, store.ClearManual(ctx, manual))
	broken, err = store.GetBroken(ctx, models.BrokenFilter{
		EligibleOnly: true,
		Now:          now.Add(7 * time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, broken, 4)
}

func TestSymlinkStore_MarkStrategyAttempt(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "models")
	store := models.NewSymlinkStore(db)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scanID, err := store.BeginScan(ctx, []string{"/media/tv"}, now)
	require.NoError(t, err)

	path := "/media/tv/Show/Season 01/ep.mkv"
	require.NoError(t, store.RecordObservation(ctx, scanID, models.Observation{
		Path: path, Status: models.SymlinkStatusBroken,
	}, now))

	require.NoError(t, store.MarkStrategyAttempt(ctx, []string{path}, models.StrategyArr, 6*time.Hour, now))
	require.NoError(t, store.MarkStrategyAttempt(ctx, []string{path}, models.StrategyArr, 6*time.Hour, now.Add(time.Minute)))

	rec, err := store.GetByPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.AttemptsArr)
	assert.Equal(t, 0, rec.AttemptsCine)
	assert.Equal(t, string(models.StrategyArr), rec.LastStrategy)
	require.NotNil(t, rec.NextRetryAt)
	assert.Equal(t, now.Add(time.Minute).Add(6*time.Hour), rec.NextRetryAt.UTC())
}

func TestSymlinkStore_Counts(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "models")
	store := models.NewSymlinkStore(db)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scanID, err := store.BeginScan(ctx, []string{"/media/tv"}, now)
	require.NoError(t, err)

	require.NoError(t, store.RecordObservation(ctx, scanID, models.Observation{Path: "/media/tv/a", Status: models.SymlinkStatusOk}, now))
	require.NoError(t, store.RecordObservation(ctx, scanID, models.Observation{Path: "/media/tv/b", Status: models.SymlinkStatusBroken}, now))
	require.NoError(t, store.RecordObservation(ctx, scanID, models.Observation{Path: "/media/tv/c", Status: models.SymlinkStatusError}, now))
	require.NoError(t, store.MarkManual(ctx, "/media/tv/b", "gave up"))

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 1, counts.Ok)
	assert.Equal(t, 1, counts.Broken)
	assert.Equal(t, 1, counts.Errors)
	assert.Equal(t, 1, counts.ManualRequired)
}
