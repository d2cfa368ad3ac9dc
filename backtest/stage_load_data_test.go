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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBacktestDataSource struct {
	candles []clickhouse.Candle
	points  []clickhouse.IndicatorPoint
	err     error
}

func (f *fakeBacktestDataSource) BacktestData(_ context.Context, _, _ string, _, _ time.Time, _ []clickhouse.Pair) ([]clickhouse.Candle, []clickhouse.IndicatorPoint, error) {
	return f.candles, f.points, f.err
}

func TestLoadDataStage_Run(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("builds the wide table", func(t *testing.T) {
		source := &fakeBacktestDataSource{candles: candleSeriesForBacktest(3, start)}
		stage := NewLoadDataStage(source, nil)
		bctx := &Context{JobID: "job-1"}

		err := stage.Run(context.Background(), bctx)
		require.NoError(t, err)
		require.NotNil(t, bctx.Table)
		assert.Equal(t, 3, bctx.Table.Len())
	})

	t.Run("reports no candles as a stage error", func(t *testing.T) {
		source := &fakeBacktestDataSource{}
		stage := NewLoadDataStage(source, nil)

		err := stage.Run(context.Background(), &Context{JobID: "job-1"})
		require.Error(t, err)
		assert.Equal(t, stageNameLoadData, err.(*StageError).Stage)
	})

	t.Run("wraps repository failure as a stage error", func(t *testing.T) {
		source := &fakeBacktestDataSource{err: assertError("clickhouse down")}
		stage := NewLoadDataStage(source, nil)

		err := stage.Run(context.Background(), &Context{JobID: "job-1"})
		require.Error(t, err)
		assert.Equal(t, stageNameLoadData, err.(*StageError).Stage)
	})

	t.Run("warns but does not fail on a slow load", func(t *testing.T) {
		source := &fakeBacktestDataSource{candles: candleSeriesForBacktest(1, start)}
		stage := NewLoadDataStage(source, nil)

		calls := 0
		base := start
		stage.now = func() time.Time {
			calls++
			if calls == 1 {
				return base
			}
			return base.Add(slowLoadThreshold + time.Second)
		}

		err := stage.Run(context.Background(), &Context{JobID: "job-1"})
		require.NoError(t, err)
	})
}

func candleSeriesForBacktest(n int, start time.Time) []clickhouse.Candle {
	candles := make([]clickhouse.Candle, n)
	for i := range candles {
		candles[i] = clickhouse.Candle{
			Ticker: "SBER", Timeframe: "1h",
			Begin: start.Add(time.Duration(i) * time.Hour),
			Close: float64(i),
		}
	}
	return candles
}
