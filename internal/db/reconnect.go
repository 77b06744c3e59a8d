package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/unklstewy/tracon-scope/pkg/config"
)

const maxReconnectDelay = 60 * time.Second

// connErrorPatterns are substrings of errors worth retrying.
var connErrorPatterns = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"bad connection",
	"eof",
	"timeout",
}

// ConnectWithRetry connects with exponential backoff, capped at one minute
// between attempts. maxRetries of 0 retries until ctx is done.
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration, logger *slog.Logger) (*DB, error) {
	delay := initialDelay
	for attempt := 1; ; attempt++ {
		logger.Debug("Database connection attempt", "attempt", attempt)

		db, err := Connect(cfg)
		if err == nil {
			if attempt > 1 {
				logger.Info("Database reconnected", "attempts", attempt)
			}
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempt, err)
		}

		logger.Warn("Database connection failed", "attempt", attempt, "retryIn", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay = min(delay*2, maxReconnectDelay)
	}
}

// IsConnectionError reports whether err looks like a transient connection
// failure rather than a query error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range connErrorPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// WithRetry runs op, retrying connection errors up to maxRetries times
// with a linearly growing wait. Other errors are returned at once.
func WithRetry(ctx context.Context, maxRetries int, logger *slog.Logger, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsConnectionError(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}

		wait := time.Duration(attempt+1) * time.Second
		logger.Warn("Database operation failed", "attempt", attempt+1, "of", maxRetries+1, "retryIn", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}
