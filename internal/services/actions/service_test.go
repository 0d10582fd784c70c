// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relinkarr/relinkarr/internal/domain"
	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/testdb"
)

type fakeGetter struct {
	calls []string
	fail  map[string]error
}

func (f *fakeGetter) Get(_ context.Context, url string) error {
	f.calls = append(f.calls, url)
	if err, ok := f.fail[url]; ok {
		return err
	}
	return nil
}

func newTestService(t *testing.T, getter *fakeGetter) (*Service, *models.ActionStore) {
	t.Helper()
	db := testdb.Open(t, "actions")
	store := models.NewActionStore(db)
	svc := NewService(domain.ActionsConfig{BatchSize: 10, PaceMillis: 1}, store, getter)
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return svc, store
}

func TestService_Process(t *testing.T) {
	ctx := context.Background()
	getter := &fakeGetter{fail: map[string]error{
		"http://relay:8000/bad": errors.New("relay returned 404"),
	}}
	svc, store := newTestService(t, getter)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.Enqueue(ctx, "http://relay:8000/good", "", "", now)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "http://relay:8000/bad", "", "", now)
	require.NoError(t, err)

	summary, err := svc.Process(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, getter.calls, 2)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Pending)
	assert.Equal(t, 1, counts.Sent)
	assert.Equal(t, 1, counts.Failed)

	failed, err := store.List(ctx, 0)
	require.NoError(t, err)
	for _, a := range failed {
		if a.Status == models.ActionStatusFailed {
			assert.Contains(t, a.LastError, "404")
		}
	}

	// nothing left to drain
	summary, err = svc.Process(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
}

func TestService_ProcessDryRun(t *testing.T) {
	ctx := context.Background()
	getter := &fakeGetter{}
	svc, store := newTestService(t, getter)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.Enqueue(ctx, "http://relay:8000/good", "", "", now)
	require.NoError(t, err)

	summary, err := svc.Process(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Empty(t, getter.calls, "dry-run never fires requests")

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending, "dry-run leaves the queue untouched")
}

func TestService_ProcessBounded(t *testing.T) {
	ctx := context.Background()
	getter := &fakeGetter{}
	svc, store := newTestService(t, getter)
	svc.cfg.BatchSize = 2

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, u := range []string{"http://relay:8000/1", "http://relay:8000/2", "http://relay:8000/3"} {
		_, err := store.Enqueue(ctx, u, "", "", now)
		require.NoError(t, err)
	}

	summary, err := svc.Process(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
}
