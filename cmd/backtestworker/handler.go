// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"fmt"

	"github.com/tradeforge/core/backtest"
	"github.com/tradeforge/core/indicator"
	"github.com/tradeforge/core/kafka"
	"github.com/tradeforge/core/simulation"
	"github.com/tradeforge/core/strategy"
)

// backtestRunner is the subset of *backtest.Orchestrator both handlers
// in this file drive.
type backtestRunner interface {
	ProcessBacktest(ctx context.Context, jobID, correlationID string, skipIndicatorCheck bool) error
}

// jobRequestHandler runs a fresh (or replayed) backtest job through the
// pipeline on receiving a backtest.JobRequest.
type jobRequestHandler struct {
	orchestrator backtestRunner
}

func (h *jobRequestHandler) Handle(ctx context.Context, msg kafka.Message) error {
	req, err := backtest.DecodeJobRequest(msg.Value)
	if err != nil {
		return fmt.Errorf("backtestworker: failed to decode job request: %w", err)
	}
	return h.orchestrator.ProcessBacktest(ctx, req.JobID, req.CorrelationID, req.SkipIndicatorCheck)
}

// calcSuccessHandler replays the backtest job an indicator calculation
// was computed on behalf of, once that calculation completes: the
// consumer side of the "round trip" EnsureDataStage initiates.
type calcSuccessHandler struct {
	orchestrator backtestRunner
}

func (h *calcSuccessHandler) Handle(ctx context.Context, msg kafka.Message) error {
	success, err := indicator.DecodeCalcSuccess(msg.Value)
	if err != nil {
		return fmt.Errorf("backtestworker: failed to decode calculation completion: %w", err)
	}
	return h.orchestrator.ProcessBacktest(ctx, success.JobID, success.CorrelationID, true)
}

// unimplementedEvaluator is the extension point a concrete
// strategy-execution engine plugs into: candle-by-candle condition
// matching, position sizing, and fill simulation are an out-of-scope
// collaborator for this module.
type unimplementedEvaluator struct{}

func (*unimplementedEvaluator) Evaluate(_ context.Context, _ simulation.Table, _ strategy.Definition, _ simulation.Config, _ int) ([]simulation.Trade, error) {
	return nil, fmt.Errorf("backtestworker: no simulation.Evaluator implementation is wired")
}
