// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	writeRetryAttempts = 6
	writeRetryBase     = 100 * time.Millisecond
	writeRetryCap      = 2 * time.Second
)

// isBusyErr reports whether err is SQLITE_BUSY or SQLITE_LOCKED contention
// from another process holding the database file.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// execWriteRetry executes a write on the dedicated connection, retrying
// lock contention with exponential backoff before surfacing the error.
func (db *DB) execWriteRetry(ctx context.Context, query string, args []any) (sql.Result, error) {
	var res sql.Result

	err := retry.Do(
		func() error {
			var execErr error
			res, execErr = db.writeConn.ExecContext(ctx, query, args...)
			return execErr
		},
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return isBusyErr(err)
		}),
		retry.Attempts(writeRetryAttempts),
		retry.Delay(writeRetryBase),
		retry.MaxDelay(writeRetryCap),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Msg("database busy, retrying write")
		}),
	)

	return res, err
}
