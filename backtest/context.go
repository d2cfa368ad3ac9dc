// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package backtest runs a single backtest job through its six-stage
// pipeline: load the job, analyze its strategy for required indicators,
// ensure those indicators are available (the asynchronous round-trip
// with the indicator worker), load the joined candle/indicator data,
// execute the strategy, and save the result.
package backtest

import (
	"time"

	"github.com/tradeforge/core/simulation"
	"github.com/tradeforge/core/store/clickhouse"
	"github.com/tradeforge/core/store/postgres"
	"github.com/tradeforge/core/strategy"
)

// Context carries a single job's state through the pipeline. Each stage
// reads what earlier stages populated and writes its own outputs; a
// stage that needs a field an earlier stage should have set, but
// didn't, reports that as a StageError rather than panicking on a nil
// dereference.
type Context struct {
	JobID         string
	CorrelationID string

	// SkipIndicatorCheck is set when this run is a retry triggered by an
	// indicator-calculation-completed reply: the data is now known to be
	// ready, so EnsureDataStage shouldn't re-check and risk racing the
	// write it's waiting on.
	SkipIndicatorCheck bool

	JobDetails         postgres.JobDetails
	Ticker             postgres.Ticker
	StrategyDefinition strategy.Definition
	RequiredIndicators []strategy.RequiredIndicator

	Table  *WideTable
	Trades []simulation.Trade

	SimulationParams map[string]any
	LotSize          int
}

// TickerSymbol, Timeframe, StartDate and EndDate proxy to the fields
// JobDetails carries, mirroring the convenience accessors the reference
// context exposes once LoadJobStage has populated it.
func (c *Context) TickerSymbol() string { return c.JobDetails.Ticker }
func (c *Context) Timeframe() string    { return c.JobDetails.Timeframe }
func (c *Context) StartDate() time.Time { return c.JobDetails.StartDate }
func (c *Context) EndDate() time.Time   { return c.JobDetails.EndDate }

// RequiredPairs converts RequiredIndicators into the clickhouse.Pair
// shape the ClickHouse repository and indicator resolver operate on.
func (c *Context) RequiredPairs() []clickhouse.Pair {
	pairs := make([]clickhouse.Pair, len(c.RequiredIndicators))
	for i, ri := range c.RequiredIndicators {
		pairs[i] = clickhouse.Pair{BaseKey: ri.BaseKey, ValueKey: ri.ValueKey}
	}
	return pairs
}
