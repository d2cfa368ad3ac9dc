// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"log/slog"
)

// Pipeline runs an ordered sequence of Stages against a single Context,
// stopping at the first one that errors.
type Pipeline struct {
	stages []Stage
	log    *slog.Logger
}

// NewPipeline builds a Pipeline that runs stages in order. log defaults
// to slog.Default().
func NewPipeline(log *slog.Logger, stages ...Stage) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{stages: stages, log: log}
}

// Run executes every stage in order against bctx, returning as soon as
// one fails.
func (p *Pipeline) Run(ctx context.Context, bctx *Context) error {
	for _, stage := range p.stages {
		p.log.DebugContext(ctx, "pipeline: running stage",
			slog.String("job_id", bctx.JobID), slog.String("stage", stage.Name()),
			slog.String("correlation_id", bctx.CorrelationID))

		if err := stage.Run(ctx, bctx); err != nil {
			return err
		}
	}
	return nil
}
