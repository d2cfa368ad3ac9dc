// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/tradeforge/core/store/clickhouse"
	"github.com/tradeforge/core/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndicatorAvailability struct {
	ready bool
	err   error
	calls int
}

func (f *fakeIndicatorAvailability) EnsureAvailable(_ context.Context, _, _, _, _ string, _, _ time.Time, _ []clickhouse.Pair) (bool, error) {
	f.calls++
	return f.ready, f.err
}

func TestEnsureDataStage_Run(t *testing.T) {
	t.Run("skips check when context says so", func(t *testing.T) {
		indicators := &fakeIndicatorAvailability{ready: false}
		stage := NewEnsureDataStage(indicators, nil)

		err := stage.Run(context.Background(), &Context{JobID: "job-1", SkipIndicatorCheck: true})
		require.NoError(t, err)
		assert.Zero(t, indicators.calls)
	})

	t.Run("skips check when strategy needs no indicators", func(t *testing.T) {
		indicators := &fakeIndicatorAvailability{ready: false}
		stage := NewEnsureDataStage(indicators, nil)

		err := stage.Run(context.Background(), &Context{JobID: "job-1"})
		require.NoError(t, err)
		assert.Zero(t, indicators.calls)
	})

	t.Run("passes through when indicators are ready", func(t *testing.T) {
		indicators := &fakeIndicatorAvailability{ready: true}
		stage := NewEnsureDataStage(indicators, nil)

		bctx := &Context{
			JobID:              "job-1",
			RequiredIndicators: []strategy.RequiredIndicator{{BaseKey: "rsi_timeperiod_14", ValueKey: "value"}},
		}
		err := stage.Run(context.Background(), bctx)
		require.NoError(t, err)
	})

	t.Run("raises a round-trip stage error when not ready", func(t *testing.T) {
		indicators := &fakeIndicatorAvailability{ready: false}
		stage := NewEnsureDataStage(indicators, nil)

		bctx := &Context{
			JobID:              "job-1",
			RequiredIndicators: []strategy.RequiredIndicator{{BaseKey: "rsi_timeperiod_14", ValueKey: "value"}},
		}
		err := stage.Run(context.Background(), bctx)
		require.Error(t, err)
		assert.True(t, IsWaitingForRoundTrip(err))
	})

	t.Run("wraps resolver failure as a non-round-trip stage error", func(t *testing.T) {
		indicators := &fakeIndicatorAvailability{err: assertError("clickhouse unavailable")}
		stage := NewEnsureDataStage(indicators, nil)

		bctx := &Context{
			JobID:              "job-1",
			RequiredIndicators: []strategy.RequiredIndicator{{BaseKey: "rsi_timeperiod_14", ValueKey: "value"}},
		}
		err := stage.Run(context.Background(), bctx)
		require.Error(t, err)
		assert.False(t, IsWaitingForRoundTrip(err))
	})
}
