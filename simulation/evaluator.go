// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package simulation

import (
	"context"

	"github.com/tradeforge/core/strategy"
)

// Table is the candle-and-indicator time series a backtest evaluates a
// strategy over: one row per bar, keyed by column name (OHLCV columns
// plus every "{base_key}_{value_key}" indicator column the strategy
// references). Concrete construction lives in the backtest package,
// which joins clickhouse.Candle and clickhouse.IndicatorPoint rows into
// this shape; simulation only consumes it.
type Table interface {
	// Len returns the number of bars.
	Len() int
	// Value returns column's value at row index, and whether that
	// column exists at all (a missing indicator column is a
	// programming error the evaluator should fail on, not a NaN it
	// should silently treat as absent).
	Value(index int, column string) (float64, bool)
	// Time returns the bar's timestamp at row index.
	Time(index int) (timeUnixNano int64)
}

// Evaluator runs a strategy over a Table and produces the resulting
// trade log. Concrete strategy-evaluation engines (candle-by-candle
// condition matching, position sizing, fill simulation) implement this;
// the backtest pipeline only depends on the interface.
type Evaluator interface {
	Evaluate(ctx context.Context, table Table, def strategy.Definition, cfg Config, lotSize int) ([]Trade, error)
}
