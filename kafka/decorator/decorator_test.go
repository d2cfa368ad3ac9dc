// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package decorator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retryableErr struct{ retryable bool }

func (e retryableErr) Error() string   { return "boom" }
func (e retryableErr) Retryable() bool { return e.retryable }

func TestRetry(t *testing.T) {
	t.Run("retries a retryable error up to MaxAttempts", func(t *testing.T) {
		calls := 0
		h := Retry(RetryOptions{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context, msg string) error {
			calls++
			return retryableErr{retryable: true}
		})

		err := h(context.Background(), "msg")
		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops immediately on a non-retryable error", func(t *testing.T) {
		calls := 0
		h := Retry(RetryOptions{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context, msg string) error {
			calls++
			return retryableErr{retryable: false}
		})

		err := h(context.Background(), "msg")
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("returns nil as soon as an attempt succeeds", func(t *testing.T) {
		calls := 0
		h := Retry(RetryOptions{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context, msg string) error {
			calls++
			if calls < 2 {
				return retryableErr{retryable: true}
			}
			return nil
		})

		err := h(context.Background(), "msg")
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("uses the literal delay list and clamps to its last element", func(t *testing.T) {
		var delays []time.Duration
		calls := 0
		h := Retry(RetryOptions{
			MaxAttempts: 5,
			Delays:      []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond},
			OnRetry: func(ctx context.Context, attempt int, delay time.Duration) {
				delays = append(delays, delay)
			},
		}, func(ctx context.Context, msg string) error {
			calls++
			return retryableErr{retryable: true}
		})

		err := h(context.Background(), "msg")
		assert.Error(t, err)
		assert.Equal(t, 5, calls)
		// 4 waits precede the 5th (final) attempt; the 4th wait clamps to
		// the list's last element since there are only 3 entries.
		require.Len(t, delays, 4)
		assert.Equal(t, []time.Duration{
			time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond,
		}, delays)
	})
}

func TestTimeout(t *testing.T) {
	t.Run("returns a context error once the deadline is exceeded", func(t *testing.T) {
		h := Timeout(10*time.Millisecond, func(ctx context.Context, msg string) error {
			<-ctx.Done()
			return ctx.Err()
		})

		err := h(context.Background(), "msg")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("returns the handler's result when it finishes in time", func(t *testing.T) {
		h := Timeout(time.Second, func(ctx context.Context, msg string) error {
			return nil
		})

		err := h(context.Background(), "msg")
		assert.NoError(t, err)
	})
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens after consecutive failures and fails fast", func(t *testing.T) {
		cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "test",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 2
			},
		})

		boom := errors.New("boom")
		calls := 0
		h := CircuitBreaker(cb, func(ctx context.Context, msg string) error {
			calls++
			return boom
		})

		_ = h(context.Background(), "msg")
		_ = h(context.Background(), "msg")

		err := h(context.Background(), "msg")
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, 2, calls, "the third call should fail fast without invoking the handler")
	})
}
