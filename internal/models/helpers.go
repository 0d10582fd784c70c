// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"database/sql"
	"strings"
	"time"
)

// sqlScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type sqlScanner interface {
	Scan(dest ...any) error
}

// sqlTime renders a timestamp the way CURRENT_TIMESTAMP does, UTC
// "YYYY-MM-DD HH:MM:SS", so stored text compares correctly in WHERE clauses
// regardless of which process wrote it.
func sqlTime(t time.Time) string {
	return t.UTC().Format(time.DateTime)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// likePrefix builds a LIKE pattern matching paths under root, escaping LIKE
// metacharacters in the root itself.
func likePrefix(root string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	prefix := r.Replace(strings.TrimRight(root, "/"))
	return prefix + "/%"
}
