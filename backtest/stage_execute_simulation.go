// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"log/slog"

	"github.com/tradeforge/core/simulation"
)

const stageNameExecuteSimulation = "execute_simulation"

// ExecuteSimulationStage runs the strategy over the loaded wide table
// and records the resulting trade log.
type ExecuteSimulationStage struct {
	evaluator simulation.Evaluator
	log       *slog.Logger
}

// NewExecuteSimulationStage wires an ExecuteSimulationStage. log
// defaults to slog.Default().
func NewExecuteSimulationStage(evaluator simulation.Evaluator, log *slog.Logger) *ExecuteSimulationStage {
	if log == nil {
		log = slog.Default()
	}
	return &ExecuteSimulationStage{evaluator: evaluator, log: log}
}

// Name implements Stage.
func (s *ExecuteSimulationStage) Name() string { return stageNameExecuteSimulation }

// Run implements Stage.
func (s *ExecuteSimulationStage) Run(ctx context.Context, bctx *Context) error {
	if bctx.Table == nil {
		return &StageError{Stage: s.Name(), Message: "no data table loaded"}
	}

	cfg, err := simulation.FromSimulationParams(bctx.SimulationParams)
	if err != nil {
		return &StageError{Stage: s.Name(), Message: "invalid simulation parameters", Cause: err}
	}

	trades, err := s.evaluator.Evaluate(ctx, bctx.Table, bctx.StrategyDefinition, cfg, bctx.LotSize)
	if err != nil {
		return &StageError{Stage: s.Name(), Message: "strategy evaluation failed", Cause: err}
	}

	bctx.Trades = trades

	s.log.InfoContext(ctx, "execute simulation stage: strategy evaluated",
		slog.String("job_id", bctx.JobID), slog.Int("trades", len(trades)),
		slog.String("correlation_id", bctx.CorrelationID))
	return nil
}
