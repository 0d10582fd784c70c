// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/testdb"
)

func TestManagerScrape(t *testing.T) {
	db := testdb.Open(t, "metrics")
	symlinkStore := models.NewSymlinkStore(db)
	actionStore := models.NewActionStore(db)
	repairStore := models.NewRepairStore(db)

	ctx := context.Background()
	now := time.Now().UTC()
	scanID, err := symlinkStore.BeginScan(ctx, []string{"/library"}, now)
	require.NoError(t, err)
	require.NoError(t, symlinkStore.RecordObservation(ctx, scanID, models.Observation{
		Path: "/library/movies/A (2020)/A.mkv", Status: models.SymlinkStatusBroken, Library: "movies",
	}, now))
	require.NoError(t, symlinkStore.RecordObservation(ctx, scanID, models.Observation{
		Path: "/library/movies/B (2021)/B.mkv", Status: models.SymlinkStatusOk, Library: "movies",
	}, now))
	_, err = actionStore.Enqueue(ctx, "http://relay/api/search?term=a", "test", "/library/movies/A (2020)/A.mkv", now)
	require.NoError(t, err)

	manager := NewManager(symlinkStore, actionStore, repairStore)

	rec := httptest.NewRecorder()
	manager.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `relinkarr_symlinks{status="broken"} 1`)
	assert.Contains(t, body, `relinkarr_symlinks{status="ok"} 1`)
	assert.Contains(t, body, `relinkarr_actions{status="pending"} 1`)
	assert.Contains(t, body, `relinkarr_orchestrator_enabled 0`)
	assert.Contains(t, body, "go_goroutines")
}
