// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package driver

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
)

var logger = loggo.GetLogger("spawn.driver")

// RetryableError marks a provider error as transient (HTTP 429 or
// 5xx). Drivers wrap before returning from read-only calls so
// RetryReadOnly can tell transient failures from permanent ones.
type RetryableError struct {
	Err error
}

// Error is part of the error interface.
func (e *RetryableError) Error() string { return e.Err.Error() }

// Unwrap supports errors.Is/As chains.
func (e *RetryableError) Unwrap() error { return e.Err }

// MarkRetryable wraps err for RetryReadOnly when transient is true.
func MarkRetryable(err error, transient bool) error {
	if err == nil || !transient {
		return err
	}
	return &RetryableError{Err: err}
}

// RetryReadOnly invokes f up to three times, backing off 2s, 4s, ...
// capped at 30s, retrying only errors marked retryable. Mutating
// calls must never go through here: a created resource cannot safely
// be requested twice.
func RetryReadOnly(ctx context.Context, clk clock.Clock, f func() error) error {
	return retry.Call(retry.CallArgs{
		Func: f,
		IsFatalError: func(err error) bool {
			var r *RetryableError
			return !errors.As(err, &r)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("transient provider error (attempt %d): %v", attempt, err)
		},
		Attempts:    3,
		Delay:       2 * time.Second,
		MaxDelay:    30 * time.Second,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clk,
		Stop:        ctx.Done(),
	})
}
