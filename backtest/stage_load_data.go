// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"log/slog"
	"time"

	"github.com/tradeforge/core/store/clickhouse"
)

const stageNameLoadData = "load_data"

// slowLoadThreshold is the BacktestData call duration above which
// LoadDataStage logs a warning; a slow load here usually means the
// window is unusually wide or ClickHouse is under load, either of
// which is worth a heads-up without failing the job.
const slowLoadThreshold = 5 * time.Second

// BacktestDataSource is the subset of clickhouse.Repository
// LoadDataStage calls.
type BacktestDataSource interface {
	BacktestData(ctx context.Context, ticker, timeframe string, start, end time.Time, pairs []clickhouse.Pair) ([]clickhouse.Candle, []clickhouse.IndicatorPoint, error)
}

// nower is satisfied by time.Now; overridden in tests so the duration
// warning path can be exercised deterministically.
type nower func() time.Time

// LoadDataStage loads the joined candle and indicator data a backtest
// window needs and assembles it into the wide table the simulation
// evaluator reads.
type LoadDataStage struct {
	data BacktestDataSource
	log  *slog.Logger
	now  nower
}

// NewLoadDataStage wires a LoadDataStage. log defaults to
// slog.Default().
func NewLoadDataStage(data BacktestDataSource, log *slog.Logger) *LoadDataStage {
	if log == nil {
		log = slog.Default()
	}
	return &LoadDataStage{data: data, log: log, now: time.Now}
}

// Name implements Stage.
func (s *LoadDataStage) Name() string { return stageNameLoadData }

// Run implements Stage.
func (s *LoadDataStage) Run(ctx context.Context, bctx *Context) error {
	started := s.now()

	candles, points, err := s.data.BacktestData(ctx, bctx.TickerSymbol(), bctx.Timeframe(),
		bctx.StartDate(), bctx.EndDate(), bctx.RequiredPairs())
	if err != nil {
		return &StageError{Stage: s.Name(), Message: "failed to load backtest data", Cause: err}
	}
	if len(candles) == 0 {
		return &StageError{Stage: s.Name(), Message: "no candle data found for the requested window"}
	}

	if elapsed := s.now().Sub(started); elapsed > slowLoadThreshold {
		s.log.WarnContext(ctx, "load data stage: backtest data load was slow",
			slog.String("job_id", bctx.JobID), slog.Duration("elapsed", elapsed),
			slog.String("correlation_id", bctx.CorrelationID))
	}

	bctx.Table = NewWideTable(candles, points)

	s.log.InfoContext(ctx, "load data stage: data loaded",
		slog.String("job_id", bctx.JobID), slog.Int("candles", len(candles)),
		slog.Int("indicator_points", len(points)), slog.String("correlation_id", bctx.CorrelationID))
	return nil
}
