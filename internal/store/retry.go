package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsConflictError reports whether err is an SQLite concurrency error
// (SQLITE_BUSY or SQLITE_LOCKED) that typically warrants a retry.
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// withRetry runs op, retrying conflict errors with exponential backoff:
// 50ms, 100ms.
func withRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < retryAttempts; i++ {
		if err = op(); err == nil || !IsConflictError(err) {
			return err
		}
		if i == retryAttempts-1 {
			break
		}
		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("Database busy, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
