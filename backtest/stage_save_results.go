// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tradeforge/core/simulation"
	"github.com/tradeforge/core/store/postgres"
)

const stageNameSaveResults = "save_results"

// ResultStore is the subset of postgres.JobRepository SaveResultsStage
// calls.
type ResultStore interface {
	SaveBacktestResult(ctx context.Context, jobID string, metrics map[string]any, trades []byte) (string, error)
	UpdateJobStatus(ctx context.Context, jobID string, status postgres.JobStatus, errMessage string) error
}

// SaveResultsStage derives summary metrics from the trade log and
// persists both, then marks the job COMPLETED. A run with zero trades
// is still a valid result (the strategy simply never fired) so it's
// logged, not failed.
type SaveResultsStage struct {
	results ResultStore
	log     *slog.Logger
}

// NewSaveResultsStage wires a SaveResultsStage. log defaults to
// slog.Default().
func NewSaveResultsStage(results ResultStore, log *slog.Logger) *SaveResultsStage {
	if log == nil {
		log = slog.Default()
	}
	return &SaveResultsStage{results: results, log: log}
}

// Name implements Stage.
func (s *SaveResultsStage) Name() string { return stageNameSaveResults }

// Run implements Stage.
func (s *SaveResultsStage) Run(ctx context.Context, bctx *Context) error {
	if len(bctx.Trades) == 0 {
		s.log.WarnContext(ctx, "save results stage: strategy produced no trades",
			slog.String("job_id", bctx.JobID), slog.String("correlation_id", bctx.CorrelationID))
	}

	cfg, err := simulation.FromSimulationParams(bctx.SimulationParams)
	if err != nil {
		return &StageError{Stage: s.Name(), Message: "invalid simulation parameters", Cause: err}
	}
	metrics := simulation.CalculateMetrics(bctx.Trades, cfg)

	tradesJSON, err := json.Marshal(bctx.Trades)
	if err != nil {
		return &StageError{Stage: s.Name(), Message: "failed to encode trade log", Cause: err}
	}

	resultID, err := s.results.SaveBacktestResult(ctx, bctx.JobID, metrics.AsMap(), tradesJSON)
	if err != nil {
		return &StageError{Stage: s.Name(), Message: "failed to save backtest result", Cause: err}
	}

	if err := s.results.UpdateJobStatus(ctx, bctx.JobID, postgres.JobCompleted, ""); err != nil {
		return &StageError{Stage: s.Name(), Message: "failed to mark job completed", Cause: err}
	}

	s.log.InfoContext(ctx, "save results stage: backtest result saved",
		slog.String("job_id", bctx.JobID), slog.String("result_id", resultID),
		slog.Int("trades", len(bctx.Trades)), slog.String("correlation_id", bctx.CorrelationID))
	return nil
}
