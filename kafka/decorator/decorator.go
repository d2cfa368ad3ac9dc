// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package decorator provides composable middleware for message handlers:
// retry with backoff, timeout, circuit breaking, and execution-time
// logging. Each decorator wraps a [Handler] and returns another [Handler],
// so they compose by nesting.
package decorator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Handler processes a single message. Implementations classify their own
// errors (e.g. as retryable or fatal) via the error types this package and
// the kafka package define; decorators inspect errors with errors.As/Is to
// decide how to react.
type Handler[T any] func(context.Context, T) error

// Retryable is satisfied by an error that a transient failure produced and
// that is therefore safe to retry; non-retryable errors fail immediately.
type Retryable interface {
	Retryable() bool
}

func isRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	// Default to retryable when a handler hasn't classified its error,
	// matching the conservative assumption that an unclassified failure
	// might be transient.
	return true
}

// RetryOptions configures [Retry]. When Delays is non-empty it takes
// precedence over BaseDelay/MaxDelay: the wait after failed attempt N
// (counting from 1) is Delays[N-1], clamped to Delays' last element once
// N exceeds its length. This
// is the form a consumer with a literal `retry_delays` policy (e.g.
// `[1s, 5s, 15s]`) should use; BaseDelay/MaxDelay remain for callers that
// want exponential backoff instead.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Delays      []time.Duration

	// OnRetry, if set, is called after a retryable failure and before the
	// wait for the next attempt. attempt is the 1-based attempt number that
	// just failed.
	OnRetry func(ctx context.Context, attempt int, delay time.Duration)
}

func (o RetryOptions) delayForAttempt(attempt int) time.Duration {
	if len(o.Delays) > 0 {
		idx := attempt - 1
		if idx >= len(o.Delays) {
			idx = len(o.Delays) - 1
		}
		return o.Delays[idx]
	}
	delay := o.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > o.MaxDelay {
			return o.MaxDelay
		}
	}
	return delay
}

// Retry wraps next with a retry policy: a literal delay list when
// opts.Delays is set, exponential backoff otherwise. It stops early if the
// error is classified non-retryable via [Retryable], or if ctx is done.
func Retry[T any](opts RetryOptions, next Handler[T]) Handler[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}

	return func(ctx context.Context, msg T) error {
		var err error

		for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
			err = next(ctx, msg)
			if err == nil {
				return nil
			}
			if !isRetryable(err) {
				return err
			}
			if attempt == opts.MaxAttempts {
				break
			}

			delay := opts.delayForAttempt(attempt)
			if opts.OnRetry != nil {
				opts.OnRetry(ctx, attempt, delay)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		return err
	}
}

// Timeout bounds next's execution to d, returning ctx.Err() if it's
// exceeded. next keeps running in the background after the timeout fires;
// callers must ensure next itself respects context cancellation to avoid
// leaking goroutines indefinitely.
func Timeout[T any](d time.Duration, next Handler[T]) Handler[T] {
	return func(ctx context.Context, msg T) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- next(ctx, msg)
		}()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CircuitBreaker wraps next with the [gobreaker.CircuitBreaker] cb,
// shedding load onto a fast-fail path while the downstream dependency next
// calls is unhealthy instead of queuing retries behind it.
func CircuitBreaker[T any](cb *gobreaker.CircuitBreaker, next Handler[T]) Handler[T] {
	return func(ctx context.Context, msg T) error {
		_, err := cb.Execute(func() (any, error) {
			return nil, next(ctx, msg)
		})
		return err
	}
}

// LogExecutionTime logs how long next took to run, at debug level on
// success and warn level on failure.
func LogExecutionTime[T any](log *slog.Logger, name string, next Handler[T]) Handler[T] {
	return func(ctx context.Context, msg T) error {
		start := time.Now()
		err := next(ctx, msg)
		elapsed := time.Since(start)

		if err != nil {
			log.WarnContext(ctx, "handler execution failed",
				slog.String("handler", name),
				slog.Duration("elapsed", elapsed),
				slog.Any("error", err))
			return err
		}

		log.DebugContext(ctx, "handler execution completed",
			slog.String("handler", name),
			slog.Duration("elapsed", elapsed))
		return nil
	}
}
