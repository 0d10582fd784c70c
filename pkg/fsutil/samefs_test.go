// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameFilesystem(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))

	same, err := SameFilesystem(dir, sub)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestSameFilesystemErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := SameFilesystem("", dir)
	assert.Error(t, err)

	_, err = SameFilesystem(dir, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
