// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mediapath extracts show, season, episode and identifier metadata
// from media library paths. All functions are pure and total: a path that
// defies every heuristic still yields a usable Info with best-effort defaults.
package mediapath

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Info is the classification result for a single library path.
// Season and Episode are -1 when no token or directory segment matched.
type Info struct {
	Library  string
	Show     string
	Season   int
	Episode  int
	Ext      string
	Filename string
}

// HasEpisode reports whether both a season and an episode were extracted.
func (i Info) HasEpisode() bool {
	return i.Season >= 0 && i.Episode >= 0
}

var (
	sxxeyyRe    = regexp.MustCompile(`(?i)\bS(\d{1,2})[ ._-]*E(\d{1,3})\b`)
	nxnnRe      = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`)
	seasonDirRe = regexp.MustCompile(`(?i)^Season[ ._-]*(\d{1,2})$`)
	tmdbRe      = regexp.MustCompile(`(?i)\{tmdb-(\d+)\}`)
	yearRe      = regexp.MustCompile(`\((\d{4})\)`)
	punctRe     = regexp.MustCompile(`[^a-z0-9]+`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Classify derives library metadata from a path. root, when non-empty and a
// prefix of path, anchors the library segment: the first path element below
// root is the library, a "Season N" directory marks the season with the show
// directory immediately above it.
func Classify(root, path string) Info {
	info := Info{
		Season:   -1,
		Episode:  -1,
		Ext:      strings.ToLower(filepath.Ext(path)),
		Filename: filepath.Base(path),
	}

	rel := path
	if root != "" {
		if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if len(segments) > 1 && root != "" {
		info.Library = segments[0]
	}

	// Season directory segment carries the show directory right above it.
	for i, seg := range segments {
		if s, ok := SeasonFromDir(seg); ok {
			info.Season = s
			if i > 0 {
				info.Show = segments[i-1]
			}
			break
		}
	}

	// Filename tokens win over the directory-derived season.
	stem := strings.TrimSuffix(info.Filename, info.Ext)
	if s, e, ok := EpisodeToken(stem); ok {
		info.Season = s
		info.Episode = e
	}

	if info.Show == "" && len(segments) >= 2 {
		// Movie-style layout: <Library>/<Title (Year)>/<file>
		info.Show = segments[len(segments)-2]
	}

	return info
}

// EpisodeToken extracts season/episode numbers from a filename stem.
// SxxEyy is tried first, then the NxNN form.
func EpisodeToken(name string) (season, episode int, ok bool) {
	if m := sxxeyyRe.FindStringSubmatch(name); m != nil {
		s, _ := strconv.Atoi(m[1])
		e, _ := strconv.Atoi(m[2])
		return s, e, true
	}
	if m := nxnnRe.FindStringSubmatch(name); m != nil {
		s, _ := strconv.Atoi(m[1])
		e, _ := strconv.Atoi(m[2])
		return s, e, true
	}
	return 0, 0, false
}

// SeasonFromDir parses a "Season N" directory segment.
func SeasonFromDir(segment string) (int, bool) {
	m := seasonDirRe.FindStringSubmatch(segment)
	if m == nil {
		return 0, false
	}
	s, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return s, true
}

// NormalizeTitle lowers, strips a trailing "(YYYY)" and collapses punctuation
// to single spaces. The result is a fuzzy-equality key, not a display title.
func NormalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = yearRe.ReplaceAllString(s, "")
	s = punctRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// CleanTitle strips an embedded {tmdb-N} tag and a year suffix from a show
// directory name, preserving the original casing for display.
func CleanTitle(dirname string) string {
	s := tmdbRe.ReplaceAllString(dirname, "")
	s = yearRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseTMDBID extracts an embedded {tmdb-12345} identifier from a directory
// name. When present it takes precedence over title matching everywhere.
func ParseTMDBID(dirname string) (int64, bool) {
	m := tmdbRe.FindStringSubmatch(dirname)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ParseYear extracts a "(YYYY)" year from a directory name.
func ParseYear(dirname string) (int, bool) {
	m := yearRe.FindStringSubmatch(dirname)
	if m == nil {
		return 0, false
	}
	y, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return y, true
}

// ResolutionRank orders release names by resolution quality:
// 2160p/4K > 1080p > 720p > 480p > unranked.
func ResolutionRank(name string) int {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "2160") || strings.Contains(n, "4k"):
		return 40
	case strings.Contains(n, "1080"):
		return 30
	case strings.Contains(n, "720"):
		return 20
	case strings.Contains(n, "480"):
		return 10
	default:
		return 0
	}
}

// SeasonTerm builds a season-scope search term, e.g. "Show S02".
func SeasonTerm(show string, season int) string {
	return fmt.Sprintf("%s S%02d", show, season)
}

// EpisodeTerm builds an episode-scope search term, e.g. "Show S02E05".
func EpisodeTerm(show string, season, episode int) string {
	return fmt.Sprintf("%s S%02dE%02d", show, season, episode)
}
