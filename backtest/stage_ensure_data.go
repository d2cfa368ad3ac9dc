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

const stageNameEnsureData = "ensure_data"

// IndicatorAvailability is the subset of indicator.Resolver
// EnsureDataStage calls.
type IndicatorAvailability interface {
	EnsureAvailable(ctx context.Context, jobID, correlationID, ticker, timeframe string, start, end time.Time, required []clickhouse.Pair) (ready bool, err error)
}

// EnsureDataStage halts the pipeline until every indicator the strategy
// needs is available in ClickHouse, publishing a calculation request
// for whatever is missing and raising a StageError carrying the
// round-trip marker so the orchestrator knows to wait rather than fail
// the job.
type EnsureDataStage struct {
	indicators IndicatorAvailability
	log        *slog.Logger
}

// NewEnsureDataStage wires an EnsureDataStage. log defaults to
// slog.Default().
func NewEnsureDataStage(indicators IndicatorAvailability, log *slog.Logger) *EnsureDataStage {
	if log == nil {
		log = slog.Default()
	}
	return &EnsureDataStage{indicators: indicators, log: log}
}

// Name implements Stage.
func (s *EnsureDataStage) Name() string { return stageNameEnsureData }

// Run implements Stage.
func (s *EnsureDataStage) Run(ctx context.Context, bctx *Context) error {
	if bctx.SkipIndicatorCheck {
		s.log.InfoContext(ctx, "ensure data stage: skipping indicator check, triggered by calculation reply",
			slog.String("job_id", bctx.JobID), slog.String("correlation_id", bctx.CorrelationID))
		return nil
	}

	required := bctx.RequiredPairs()
	if len(required) == 0 {
		s.log.DebugContext(ctx, "ensure data stage: strategy references no indicators",
			slog.String("job_id", bctx.JobID), slog.String("correlation_id", bctx.CorrelationID))
		return nil
	}

	ready, err := s.indicators.EnsureAvailable(ctx, bctx.JobID, bctx.CorrelationID,
		bctx.TickerSymbol(), bctx.Timeframe(), bctx.StartDate(), bctx.EndDate(), required)
	if err != nil {
		return &StageError{Stage: s.Name(), Message: "failed to verify indicator availability", Cause: err}
	}

	if !ready {
		return &StageError{
			Stage:   s.Name(),
			Message: "Waiting for round trip from Data Processor.",
		}
	}

	s.log.InfoContext(ctx, "ensure data stage: all required indicators available",
		slog.String("job_id", bctx.JobID), slog.String("correlation_id", bctx.CorrelationID))
	return nil
}
