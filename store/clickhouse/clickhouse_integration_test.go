//go:build testcontainers

// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/tradeforge/core/internal/tz"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRepository_CandlesRoundTrip exercises real reads and writes against
// a ClickHouse container: seeding candles_base directly, then confirming
// Candles and CandleBefore return begin timestamps normalised to
// [tz.Moscow] regardless of the zone they were stored in.
func TestRepository_CandlesRoundTrip(t *testing.T) {
	pool, cleanup := setupClickHouseContainer(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewRepository(pool)

	utc := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	batch, err := conn.PrepareBatch(ctx, "INSERT INTO candles_base (ticker, timeframe, begin, open, high, low, close, volume)")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, batch.Append("SBER", "1h", utc.Add(time.Duration(i)*time.Hour), 100.0+float64(i), 101.0, 99.0, 100.5, 1000.0))
	}
	require.NoError(t, batch.Send())
	pool.Release(conn)

	candles, err := repo.Candles(ctx, "SBER", "1h", utc.Add(-time.Hour), utc.Add(3*time.Hour))
	require.NoError(t, err)
	if assert.Len(t, candles, 3) {
		for _, c := range candles {
			assert.Equal(t, tz.Moscow, c.Begin.Location())
			assert.True(t, c.Begin.Equal(c.Begin.In(time.UTC)))
		}
	}

	before, ok, err := repo.CandleBefore(ctx, "SBER", "1h", utc.Add(2*time.Hour))
	require.NoError(t, err)
	if assert.True(t, ok) {
		assert.Equal(t, tz.Moscow, before.Begin.Location())
		assert.True(t, before.Begin.Equal(utc.Add(time.Hour)))
	}
}

// TestRepository_IndicatorBatchRoundTrip exercises InsertIndicatorBatch and
// MissingIndicatorPeriods/BacktestData against a real ClickHouse instance.
func TestRepository_IndicatorBatchRoundTrip(t *testing.T) {
	pool, cleanup := setupClickHouseContainer(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewRepository(pool)

	utc := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	batch, err := conn.PrepareBatch(ctx, "INSERT INTO candles_base (ticker, timeframe, begin, open, high, low, close, volume)")
	require.NoError(t, err)
	require.NoError(t, batch.Append("SBER", "1h", utc, 100.0, 101.0, 99.0, 100.5, 1000.0))
	require.NoError(t, batch.Send())
	pool.Release(conn)

	pair := Pair{BaseKey: "ema", ValueKey: "value"}
	missing, err := repo.MissingIndicatorPeriods(ctx, "SBER", "1h", utc, utc, []Pair{pair})
	require.NoError(t, err)
	assert.Len(t, missing, 1, "no indicator rows written yet, period should be reported missing")

	require.NoError(t, repo.InsertIndicatorBatch(ctx, []IndicatorPoint{
		{Ticker: "SBER", Timeframe: "1h", Begin: utc, IndicatorKey: "ema", ValueKey: "value", Value: 42.0, Version: 1},
	}))

	candles, points, err := repo.BacktestData(ctx, "SBER", "1h", utc, utc, []Pair{pair})
	require.NoError(t, err)
	assert.Len(t, candles, 1)
	if assert.Len(t, points, 1) {
		assert.Equal(t, tz.Moscow, points[0].Begin.Location())
		assert.Equal(t, 42.0, points[0].Value)
	}
}
