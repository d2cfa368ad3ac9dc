// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tradeforge/core/internal/tz"
)

// Candle is a single OHLCV bar.
type Candle struct {
	Ticker    string
	Timeframe string
	Begin     time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// IndicatorPoint is a single computed indicator value row, in the long
// (ticker, timeframe, begin, indicator_key, value_key, value) schema.
type IndicatorPoint struct {
	Ticker       string
	Timeframe    string
	Begin        time.Time
	IndicatorKey string
	ValueKey     string
	Value        float64
	Version      int64
}

// Pair identifies a required indicator by its base (indicator) key and
// the specific output column (value key) a strategy references.
type Pair struct {
	BaseKey  string
	ValueKey string
}

// dummyIndicatorPair is substituted when a backtest needs no indicators,
// so the UNION ALL query's IN clause is never empty.
var dummyIndicatorPair = Pair{BaseKey: "__none__", ValueKey: "__none__"}

// Repository implements the ClickHouse-backed reads and writes the
// indicator and backtest processing cores need.
type Repository struct {
	pool *Pool
}

// NewRepository wraps pool for query execution.
func NewRepository(pool *Pool) *Repository {
	return &Repository{pool: pool}
}

const requiredCandlesCountQuery = `
SELECT count() AS total_candles
FROM candles_base
PREWHERE ticker = ? AND timeframe = ?
WHERE begin >= ? AND begin <= ?
`

// RequiredCandlesCount returns how many base candles exist for the window.
func (r *Repository) RequiredCandlesCount(ctx context.Context, ticker, timeframe string, start, end time.Time) (uint64, error) {
	start, end = tz.Normalize(start), tz.Normalize(end)

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer r.pool.Release(conn)

	row := conn.QueryRow(ctx, requiredCandlesCountQuery, ticker, timeframe, start, end)
	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("clickhouse: failed to count required candles: %w", err)
	}
	return count, nil
}

const verifyDataCompletenessQuery = `
SELECT
	indicator_key,
	count(DISTINCT begin) AS covered_candles,
	count() AS total_records,
	count(DISTINCT (begin, value_key)) AS unique_combinations
FROM candles_indicators FINAL
PREWHERE ticker = ? AND timeframe = ?
WHERE begin >= ? AND begin <= ? AND indicator_key IN ?
GROUP BY indicator_key
`

// MissingIndicatorPeriods returns the subset of required that is either
// entirely absent, incompletely covered, or contains duplicate rows for
// the given window. An empty required list always returns no gaps.
func (r *Repository) MissingIndicatorPeriods(ctx context.Context, ticker, timeframe string, start, end time.Time, required []Pair) ([]Pair, error) {
	if len(required) == 0 {
		return nil, nil
	}

	start, end = tz.Normalize(start), tz.Normalize(end)
	baseKeys := uniqueBaseKeys(required)

	requiredCandles, err := r.RequiredCandlesCount(ctx, ticker, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	if requiredCandles == 0 {
		return required, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(conn)

	rows, err := conn.Query(ctx, verifyDataCompletenessQuery, ticker, timeframe, start, end, baseKeys)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: failed to verify data completeness: %w", err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(baseKeys))
	incomplete := make(map[string]struct{})

	for rows.Next() {
		var (
			indicatorKey                                     string
			coveredCandles, totalRecords, uniqueCombinations uint64
		)
		if err := rows.Scan(&indicatorKey, &coveredCandles, &totalRecords, &uniqueCombinations); err != nil {
			return nil, fmt.Errorf("clickhouse: failed to scan completeness row: %w", err)
		}
		found[indicatorKey] = struct{}{}

		hasDuplicates := totalRecords > uniqueCombinations
		isIncomplete := coveredCandles < requiredCandles
		if hasDuplicates || isIncomplete {
			incomplete[indicatorKey] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: error iterating completeness rows: %w", err)
	}

	for _, key := range baseKeys {
		if _, ok := found[key]; !ok {
			incomplete[key] = struct{}{}
		}
	}

	if len(incomplete) == 0 {
		return nil, nil
	}

	var missing []Pair
	for _, p := range required {
		if _, ok := incomplete[p.BaseKey]; ok {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

func uniqueBaseKeys(pairs []Pair) []string {
	seen := make(map[string]struct{}, len(pairs))
	var keys []string
	for _, p := range pairs {
		if _, ok := seen[p.BaseKey]; ok {
			continue
		}
		seen[p.BaseKey] = struct{}{}
		keys = append(keys, p.BaseKey)
	}
	return keys
}

const backtestDataQuery = `
SELECT 'candle' AS data_type, ticker, timeframe, begin, open, high, low, close, volume, '' AS indicator_key, '' AS value_key, 0.0 AS value
FROM candles_base
PREWHERE ticker = ? AND timeframe = ?
WHERE begin >= ? AND begin <= ?

UNION ALL

SELECT 'indicator' AS data_type, ticker, timeframe, begin, 0.0, 0.0, 0.0, 0.0, 0.0, indicator_key, value_key, value
FROM candles_indicators FINAL
PREWHERE ticker = ? AND timeframe = ?
WHERE begin >= ? AND begin <= ? AND (indicator_key, value_key) IN ?
`

// BacktestData loads the base candles and indicator values a backtest
// window needs in one round trip, split back into two slices.
func (r *Repository) BacktestData(ctx context.Context, ticker, timeframe string, start, end time.Time, pairs []Pair) ([]Candle, []IndicatorPoint, error) {
	if len(pairs) == 0 {
		pairs = []Pair{dummyIndicatorPair}
	}
	start, end = tz.Normalize(start), tz.Normalize(end)

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer r.pool.Release(conn)

	pairTuples := make([][]string, len(pairs))
	for i, p := range pairs {
		pairTuples[i] = []string{p.BaseKey, p.ValueKey}
	}

	rows, err := conn.Query(ctx, backtestDataQuery,
		ticker, timeframe, start, end,
		ticker, timeframe, start, end, pairTuples,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse: failed to load backtest data: %w", err)
	}
	defer rows.Close()

	var candles []Candle
	var points []IndicatorPoint

	for rows.Next() {
		var (
			dataType, tk, tf, indicatorKey, valueKey string
			begin                                    time.Time
			open, high, low, cl, volume, value       float64
		)
		if err := rows.Scan(&dataType, &tk, &tf, &begin, &open, &high, &low, &cl, &volume, &indicatorKey, &valueKey, &value); err != nil {
			return nil, nil, fmt.Errorf("clickhouse: failed to scan backtest data row: %w", err)
		}
		begin = tz.Normalize(begin)
		if dataType == "candle" {
			candles = append(candles, Candle{Ticker: tk, Timeframe: tf, Begin: begin, Open: open, High: high, Low: low, Close: cl, Volume: volume})
			continue
		}
		points = append(points, IndicatorPoint{Ticker: tk, Timeframe: tf, Begin: begin, IndicatorKey: indicatorKey, ValueKey: valueKey, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("clickhouse: error iterating backtest data rows: %w", err)
	}
	return candles, points, nil
}

// CandleBefore returns the base candle immediately preceding ts, used to
// compute an indicator's effective start date once its lookback period is
// accounted for.
func (r *Repository) CandleBefore(ctx context.Context, ticker, timeframe string, ts time.Time) (Candle, bool, error) {
	ts = tz.Normalize(ts)

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return Candle{}, false, err
	}
	defer r.pool.Release(conn)

	row := conn.QueryRow(ctx, `
		SELECT begin, open, high, low, close, volume
		FROM candles_base
		PREWHERE ticker = ? AND timeframe = ?
		WHERE begin < ?
		ORDER BY begin DESC
		LIMIT 1
	`, ticker, timeframe, ts)

	var c Candle
	c.Ticker, c.Timeframe = ticker, timeframe
	if err := row.Scan(&c.Begin, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Candle{}, false, nil
		}
		return Candle{}, false, fmt.Errorf("clickhouse: failed to load preceding candle: %w", err)
	}
	c.Begin = tz.Normalize(c.Begin)
	return c, true, nil
}

// Candles loads the base candles for a ticker/timeframe window, ordered
// by begin ascending.
func (r *Repository) Candles(ctx context.Context, ticker, timeframe string, start, end time.Time) ([]Candle, error) {
	start, end = tz.Normalize(start), tz.Normalize(end)

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(conn)

	rows, err := conn.Query(ctx, `
		SELECT begin, open, high, low, close, volume
		FROM candles_base
		PREWHERE ticker = ? AND timeframe = ?
		WHERE begin >= ? AND begin <= ?
		ORDER BY begin ASC
	`, ticker, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: failed to load candles: %w", err)
	}
	defer rows.Close()

	var candles []Candle
	for rows.Next() {
		c := Candle{Ticker: ticker, Timeframe: timeframe}
		if err := rows.Scan(&c.Begin, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("clickhouse: failed to scan candle row: %w", err)
		}
		c.Begin = tz.Normalize(c.Begin)
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// InsertIndicatorBatch bulk-inserts points into candles_indicators.
// Each point must already carry the Version stamp the caller wants
// committed; ClickHouse's ReplacingMergeTree(version) engine (read back
// via the repository's FINAL queries above) resolves duplicates to the
// highest version at merge time.
func (r *Repository) InsertIndicatorBatch(ctx context.Context, points []IndicatorPoint) error {
	if len(points) == 0 {
		return nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Release(conn)

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO candles_indicators (ticker, timeframe, begin, indicator_key, value_key, value, version)")
	if err != nil {
		return fmt.Errorf("clickhouse: failed to prepare indicator batch insert: %w", err)
	}

	for _, p := range points {
		if err := batch.Append(p.Ticker, p.Timeframe, tz.Normalize(p.Begin), p.IndicatorKey, p.ValueKey, p.Value, p.Version); err != nil {
			return fmt.Errorf("clickhouse: failed to append indicator row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: failed to send indicator batch: %w", err)
	}
	return nil
}
