// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build windows

package fsutil

import (
	"path/filepath"
	"strings"
)

func sameFilesystem(path1, path2 string) (bool, error) {
	vol1 := filepath.VolumeName(filepath.Clean(path1))
	vol2 := filepath.VolumeName(filepath.Clean(path2))
	return strings.EqualFold(vol1, vol2), nil
}
