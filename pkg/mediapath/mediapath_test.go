// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mediapath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		root string
		path string
		want Info
	}{
		{
			name: "sxxeyy token with season directory",
			root: "/media",
			path: "/media/tv/Severance (2022)/Season 2/Severance.S02E05.1080p.mkv",
			want: Info{
				Library:  "tv",
				Show:     "Severance (2022)",
				Season:   2,
				Episode:  5,
				Ext:      ".mkv",
				Filename: "Severance.S02E05.1080p.mkv",
			},
		},
		{
			name: "nxnn token",
			root: "/media",
			path: "/media/tv/The Wire/Season 1/the.wire.1x03.mkv",
			want: Info{
				Library:  "tv",
				Show:     "The Wire",
				Season:   1,
				Episode:  3,
				Ext:      ".mkv",
				Filename: "the.wire.1x03.mkv",
			},
		},
		{
			name: "season directory only",
			root: "/media",
			path: "/media/tv/Taskmaster/Season 12/Episode Five.mkv",
			want: Info{
				Library:  "tv",
				Show:     "Taskmaster",
				Season:   12,
				Episode:  -1,
				Ext:      ".mkv",
				Filename: "Episode Five.mkv",
			},
		},
		{
			name: "movie layout has no season",
			root: "/media",
			path: "/media/movies/Heat (1995)/Heat.1995.2160p.mkv",
			want: Info{
				Library:  "movies",
				Show:     "Heat (1995)",
				Season:   -1,
				Episode:  -1,
				Ext:      ".mkv",
				Filename: "Heat.1995.2160p.mkv",
			},
		},
		{
			name: "path outside root still classifies",
			root: "/media",
			path: "/elsewhere/Show/Season 3/show S03E01.mkv",
			want: Info{
				Library:  "",
				Show:     "Show",
				Season:   3,
				Episode:  1,
				Ext:      ".mkv",
				Filename: "show S03E01.mkv",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.root, tt.path))
		})
	}
}

func TestEpisodeToken(t *testing.T) {
	s, e, ok := EpisodeToken("Show.S01E02.720p")
	require.True(t, ok)
	assert.Equal(t, 1, s)
	assert.Equal(t, 2, e)

	s, e, ok = EpisodeToken("show 4x11 hdtv")
	require.True(t, ok)
	assert.Equal(t, 4, s)
	assert.Equal(t, 11, e)

	// SxxEyy wins when both forms appear.
	s, e, ok = EpisodeToken("show S02E03 1x99")
	require.True(t, ok)
	assert.Equal(t, 2, s)
	assert.Equal(t, 3, e)

	_, _, ok = EpisodeToken("just a movie 1080p")
	assert.False(t, ok)
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Severance (2022)", "severance"},
		{"The.Wire", "the wire"},
		{"  What  We Do in the Shadows ", "what we do in the shadows"},
		{"M*A*S*H", "m a s h"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTitle(tt.in), "input %q", tt.in)
	}
}

func TestParseTMDBID(t *testing.T) {
	id, ok := ParseTMDBID("Severance (2022) {tmdb-95396}")
	require.True(t, ok)
	assert.Equal(t, int64(95396), id)

	_, ok = ParseTMDBID("Severance (2022)")
	assert.False(t, ok)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Severance", CleanTitle("Severance (2022) {tmdb-95396}"))
	assert.Equal(t, "The Wire", CleanTitle("The Wire"))
}

func TestResolutionRank(t *testing.T) {
	assert.Greater(t, ResolutionRank("show.2160p.mkv"), ResolutionRank("show.1080p.mkv"))
	assert.Greater(t, ResolutionRank("show.4K.mkv"), ResolutionRank("show.720p.mkv"))
	assert.Greater(t, ResolutionRank("show.1080p.mkv"), ResolutionRank("show.720p.mkv"))
	assert.Greater(t, ResolutionRank("show.720p.mkv"), ResolutionRank("show.480p.mkv"))
	assert.Equal(t, 0, ResolutionRank("show.mkv"))
}

func TestSearchTerms(t *testing.T) {
	assert.Equal(t, "Severance S02", SeasonTerm("Severance", 2))
	assert.Equal(t, "Severance S02E05", EpisodeTerm("Severance", 2, 5))
}

func TestSeasonFromDir(t *testing.T) {
	s, ok := SeasonFromDir("Season 7")
	require.True(t, ok)
	assert.Equal(t, 7, s)

	s, ok = SeasonFromDir("season_03")
	require.True(t, ok)
	assert.Equal(t, 3, s)

	_, ok = SeasonFromDir("Specials")
	assert.False(t, ok)
}
