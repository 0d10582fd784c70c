// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cinesync_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relinkarr/relinkarr/internal/domain"
	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/services/cinesync"
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

// resolved returns dir with any leading symlinks evaluated, matching what
// EvalSymlinks produces for files inside it.
func resolved(t *testing.T, dir string) string {
	t.Helper()
	r, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return r
}

type fixture struct {
	svc    *cinesync.Service
	store  *models.CinesyncStore
	base   string
	remote string
}

func setup(t *testing.T, dryRun bool) *fixture {
	t.Helper()
	db := testdb.Open(t, "cinesync")
	store := models.NewCinesyncStore(db)

	base := t.TempDir()
	remote := resolved(t, t.TempDir())

	svc := cinesync.NewService(domain.CineSyncConfig{
		Base:                  base,
		AllowedTargetPrefixes: []string{remote},
		DryRun:                dryRun,
	}, store)

	return &fixture{svc: svc, store: store, base: base, remote: remote}
}

func TestService_ReindexAndResolutionPreference(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	real1080 := writeFile(t, filepath.Join(f.remote, "show", "s02e05.1080p.mkv"))
	real2160 := writeFile(t, filepath.Join(f.remote, "show", "s02e05.2160p.mkv"))

	showDir := "Breaking Slow (2019) {tmdb-12345}"
	symlink(t, real1080, filepath.Join(f.base, "Shows", showDir, "Season 02", "Breaking Slow S02E05 1080p.mkv"))
	uhd := symlink(t, real2160, filepath.Join(f.base, "4KShows", showDir, "Season 02", "Breaking Slow S02E05 2160p.mkv"))
	// dead mirror entry: target missing
	symlink(t, filepath.Join(f.remote, "show", "gone.mkv"), filepath.Join(f.base, "Shows", showDir, "Season 02", "Breaking Slow S02E05 REPACK 2160p.mkv"))

	n, err := f.svc.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rec := &models.SymlinkRecord{
		Path:    "/media/tv/Breaking Slow {tmdb-12345}/Season 02/ep.mkv",
		Show:    "Breaking Slow {tmdb-12345}",
		Season:  intPtr(2),
		Episode: intPtr(5),
	}
	candidate, err := f.svc.Match(ctx, rec)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, uhd, candidate.Path)
	assert.Equal(t, 40, candidate.ResolutionRank)
}

func TestService_MatchByNormalizedTitle(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	real := writeFile(t, filepath.Join(f.remote, "show", "s01e01.mkv"))
	symlink(t, real, filepath.Join(f.base, "Shows", "Other Show (2021)", "Season 01", "Other Show S01E01 720p.mkv"))

	_, err := f.svc.Reindex(ctx)
	require.NoError(t, err)

	rec := &models.SymlinkRecord{
		Path:    "/media/tv/Other Show/Season 01/ep.mkv",
		Show:    "other.show",
		Season:  intPtr(1),
		Episode: intPtr(1),
	}
	candidate, err := f.svc.Match(ctx, rec)
	require.NoError(t, err)
	require.NotNil(t, candidate)
}

func TestService_RepairRelinksToRealFile(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	real := writeFile(t, filepath.Join(f.remote, "show", "s01e01.mkv"))
	symlink(t, real, filepath.Join(f.base, "Shows", "Show (2020) {tmdb-777}", "Season 01", "Show S01E01 1080p.mkv"))

	_, err := f.svc.Reindex(ctx)
	require.NoError(t, err)

	library := t.TempDir()
	broken := symlink(t, filepath.Join(f.remote, "show", "vanished.mkv"),
		filepath.Join(library, "tv", "Show {tmdb-777}", "Season 01", "Show S01E01.mkv"))

	res := f.svc.Repair(ctx, &models.SymlinkRecord{
		Path: broken, Show: "Show {tmdb-777}", Season: intPtr(1), Episode: intPtr(1),
	})
	require.Equal(t, cinesync.OutcomeReplaced, res.Outcome, res.Detail)

	// the repaired link points at the ultimate real file, not the mirror symlink
	target, err := os.Readlink(broken)
	require.NoError(t, err)
	assert.Equal(t, real, target)

	_, err = os.Stat(broken)
	require.NoError(t, err)
}

func TestService_RepairRefusesTargetOutsideAllowedPrefixes(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	outside := writeFile(t, filepath.Join(resolved(t, t.TempDir()), "loose.mkv"))
	symlink(t, outside, filepath.Join(f.base, "Shows", "Loose Show {tmdb-42}", "Season 01", "Loose Show S01E01.mkv"))

	_, err := f.svc.Reindex(ctx)
	require.NoError(t, err)

	library := t.TempDir()
	broken := symlink(t, "/nowhere/x.mkv", filepath.Join(library, "tv", "Loose Show {tmdb-42}", "Season 01", "ep.mkv"))

	res := f.svc.Repair(ctx, &models.SymlinkRecord{
		Path: broken, Show: "Loose Show {tmdb-42}", Season: intPtr(1), Episode: intPtr(1),
	})
	assert.Equal(t, cinesync.OutcomeSkipped, res.Outcome)
	assert.Contains(t, res.Detail, "outside allowed prefixes")

	// no filesystem mutation happened
	target, err := os.Readlink(broken)
	require.NoError(t, err)
	assert.Equal(t, "/nowhere/x.mkv", target)
}

func TestService_RepairDryRun(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)

	real := writeFile(t, filepath.Join(f.remote, "show", "s01e01.mkv"))
	symlink(t, real, filepath.Join(f.base, "Shows", "Show {tmdb-9}", "Season 01", "Show S01E01.mkv"))

	_, err := f.svc.Reindex(ctx)
	require.NoError(t, err)

	library := t.TempDir()
	broken := symlink(t, "/nowhere/x.mkv", filepath.Join(library, "tv", "Show {tmdb-9}", "Season 01", "ep.mkv"))

	res := f.svc.Repair(ctx, &models.SymlinkRecord{
		Path: broken, Show: "Show {tmdb-9}", Season: intPtr(1), Episode: intPtr(1),
	})
	assert.Equal(t, cinesync.OutcomeReplaced, res.Outcome)

	target, err := os.Readlink(broken)
	require.NoError(t, err)
	assert.Equal(t, "/nowhere/x.mkv", target, "dry-run leaves the link unchanged")
}

func TestService_MatchNoCandidate(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	candidate, err := f.svc.Match(ctx, &models.SymlinkRecord{
		Path: "/media/tv/Unknown/Season 01/ep.mkv", Show: "Unknown", Season: intPtr(1), Episode: intPtr(1),
	})
	require.NoError(t, err)
	assert.Nil(t, candidate)
}
