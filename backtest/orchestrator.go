// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"log/slog"

	"github.com/tradeforge/core/simulation"
	"github.com/tradeforge/core/store/postgres"
)

// Orchestrator coordinates a single backtest job's full lifecycle: it
// builds the six-stage pipeline, runs it against a fresh Context, and
// translates the outcome into a job status update.
type Orchestrator struct {
	jobs       JobStore
	tickers    TickerStore
	analyser   StrategyAnalyser
	indicators IndicatorAvailability
	data       BacktestDataSource
	evaluator  simulation.Evaluator
	results    ResultStore
	log        *slog.Logger
}

// NewOrchestrator wires an Orchestrator from its stage collaborators.
// log defaults to slog.Default().
func NewOrchestrator(
	jobs JobStore,
	tickers TickerStore,
	analyser StrategyAnalyser,
	indicators IndicatorAvailability,
	data BacktestDataSource,
	evaluator simulation.Evaluator,
	results ResultStore,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		jobs:       jobs,
		tickers:    tickers,
		analyser:   analyser,
		indicators: indicators,
		data:       data,
		evaluator:  evaluator,
		results:    results,
		log:        log,
	}
}

func (o *Orchestrator) buildPipeline() *Pipeline {
	return NewPipeline(o.log,
		NewLoadJobStage(o.jobs, o.tickers, o.log),
		NewAnalyzeStrategyStage(o.analyser, o.log),
		NewEnsureDataStage(o.indicators, o.log),
		NewLoadDataStage(o.data, o.log),
		NewExecuteSimulationStage(o.evaluator, o.log),
		NewSaveResultsStage(o.results, o.log),
	)
}

// ProcessBacktest runs a job through the full pipeline. skipIndicatorCheck
// is set when this invocation was triggered by an indicator-calculation
// reply, so EnsureDataStage trusts the data is now ready instead of
// re-checking it.
//
// A StageError whose condition is the ensure-data stage's round-trip
// wait is not a failure: the job is left RUNNING and ProcessBacktest
// returns nil, since the caller (the calculation-reply handler) will
// invoke it again once the reply arrives. Any other error marks the job
// FAILED and is returned to the caller.
func (o *Orchestrator) ProcessBacktest(ctx context.Context, jobID, correlationID string, skipIndicatorCheck bool) error {
	o.log.InfoContext(ctx, "orchestrator: backtest started",
		slog.String("job_id", jobID), slog.String("correlation_id", correlationID))

	bctx := &Context{
		JobID:              jobID,
		CorrelationID:      correlationID,
		SkipIndicatorCheck: skipIndicatorCheck,
	}

	pipeline := o.buildPipeline()
	err := pipeline.Run(ctx, bctx)
	if err == nil {
		o.log.InfoContext(ctx, "orchestrator: backtest completed successfully",
			slog.String("job_id", jobID), slog.Int("trades", len(bctx.Trades)),
			slog.String("correlation_id", correlationID))
		return nil
	}

	return o.handleError(ctx, jobID, correlationID, err)
}

func (o *Orchestrator) handleError(ctx context.Context, jobID, correlationID string, err error) error {
	if IsWaitingForRoundTrip(err) {
		o.log.InfoContext(ctx, "orchestrator: waiting for indicator calculation round trip",
			slog.String("job_id", jobID), slog.String("error", err.Error()),
			slog.String("correlation_id", correlationID))
		return nil
	}

	o.log.ErrorContext(ctx, "orchestrator: backtest failed",
		slog.String("job_id", jobID), slog.String("error", err.Error()),
		slog.String("correlation_id", correlationID))

	if err := o.failJob(ctx, jobID, err.Error()); err != nil {
		o.log.ErrorContext(ctx, "orchestrator: failed to update job status to failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	return err
}

func (o *Orchestrator) failJob(ctx context.Context, jobID, message string) error {
	return o.results.UpdateJobStatus(ctx, jobID, postgres.JobFailed, message)
}
