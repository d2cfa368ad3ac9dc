// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"log/slog"

	"github.com/tradeforge/core/strategy"
)

const stageNameAnalyzeStrategy = "analyze_strategy"

// StrategyAnalyser is the subset of strategy.Analyser
// AnalyzeStrategyStage calls.
type StrategyAnalyser interface {
	ExtractRequiredIndicators(ctx context.Context, def strategy.Definition) ([]strategy.RequiredIndicator, error)
}

// AnalyzeStrategyStage walks the job's strategy definition and records
// every indicator it needs before the backtest can run.
type AnalyzeStrategyStage struct {
	analyser StrategyAnalyser
	log      *slog.Logger
}

// NewAnalyzeStrategyStage wires an AnalyzeStrategyStage. log defaults to
// slog.Default().
func NewAnalyzeStrategyStage(analyser StrategyAnalyser, log *slog.Logger) *AnalyzeStrategyStage {
	if log == nil {
		log = slog.Default()
	}
	return &AnalyzeStrategyStage{analyser: analyser, log: log}
}

// Name implements Stage.
func (s *AnalyzeStrategyStage) Name() string { return stageNameAnalyzeStrategy }

// Run implements Stage.
func (s *AnalyzeStrategyStage) Run(ctx context.Context, bctx *Context) error {
	required, err := s.analyser.ExtractRequiredIndicators(ctx, bctx.StrategyDefinition)
	if err != nil {
		return &StageError{Stage: s.Name(), Message: "failed to extract required indicators", Cause: err}
	}

	bctx.RequiredIndicators = required

	s.log.InfoContext(ctx, "analyze strategy stage: required indicators resolved",
		slog.String("job_id", bctx.JobID), slog.Int("count", len(required)),
		slog.String("correlation_id", bctx.CorrelationID))
	return nil
}
