// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tradeforge/core/store/postgres"
	"github.com/tradeforge/core/strategy"
)

const stageNameLoadJob = "load_job"

// JobStore is the subset of postgres.JobRepository LoadJobStage reads.
type JobStore interface {
	GetJobDetails(ctx context.Context, jobID string) (postgres.JobDetails, bool, error)
}

// TickerStore is the subset of postgres.TickerRepository LoadJobStage
// reads.
type TickerStore interface {
	Get(ctx context.Context, symbol string) (postgres.Ticker, error)
}

// LoadJobStage is the pipeline's first step: it loads the job's static
// request, the traded instrument's lot size, and parses the job's
// strategy definition, populating everything later stages need.
type LoadJobStage struct {
	jobs    JobStore
	tickers TickerStore
	log     *slog.Logger
}

// NewLoadJobStage wires a LoadJobStage. log defaults to slog.Default().
func NewLoadJobStage(jobs JobStore, tickers TickerStore, log *slog.Logger) *LoadJobStage {
	if log == nil {
		log = slog.Default()
	}
	return &LoadJobStage{jobs: jobs, tickers: tickers, log: log}
}

// Name implements Stage.
func (s *LoadJobStage) Name() string { return stageNameLoadJob }

// Run implements Stage.
func (s *LoadJobStage) Run(ctx context.Context, bctx *Context) error {
	job, ok, err := s.jobs.GetJobDetails(ctx, bctx.JobID)
	if err != nil {
		return &StageError{Stage: s.Name(), Message: "failed to load job details", Cause: err}
	}
	if !ok {
		return &StageError{Stage: s.Name(), Message: fmt.Sprintf("job %s not found in database", bctx.JobID)}
	}

	s.log.InfoContext(ctx, "load job stage: job details loaded",
		slog.String("job_id", bctx.JobID), slog.String("ticker", job.Ticker),
		slog.String("timeframe", job.Timeframe), slog.String("correlation_id", bctx.CorrelationID))

	ticker, err := s.tickers.Get(ctx, job.Ticker)
	if err != nil {
		return &StageError{Stage: s.Name(), Message: fmt.Sprintf("ticker %s not found", job.Ticker), Cause: err}
	}

	s.log.DebugContext(ctx, "load job stage: ticker info loaded",
		slog.String("ticker", job.Ticker), slog.Int("lot_size", ticker.LotSize),
		slog.String("correlation_id", bctx.CorrelationID))

	var def strategy.Definition
	if err := parseStrategyDefinition(job.StrategyDefinition, &def); err != nil {
		return &StageError{Stage: s.Name(), Message: fmt.Sprintf("failed to parse strategy definition: %v", err), Cause: err}
	}

	bctx.JobDetails = job
	bctx.Ticker = ticker
	bctx.StrategyDefinition = def
	bctx.SimulationParams = job.SimulationParams
	bctx.LotSize = ticker.LotSize

	s.log.InfoContext(ctx, "load job stage: context populated",
		slog.String("job_id", bctx.JobID), slog.String("ticker", job.Ticker),
		slog.String("timeframe", job.Timeframe), slog.Int("lot_size", ticker.LotSize),
		slog.String("correlation_id", bctx.CorrelationID))
	return nil
}

// strategyWireFormat is the JSON shape a strategy definition is stored
// in; its condition trees are decoded through strategyNodeJSON below
// since strategy.Node is an interface with no default unmarshaler.
type strategyWireFormat struct {
	EntryBuyConditions  json.RawMessage    `json:"entry_buy_conditions"`
	EntrySellConditions json.RawMessage    `json:"entry_sell_conditions"`
	ExitConditions      json.RawMessage    `json:"exit_conditions"`
	ExitLongConditions  json.RawMessage    `json:"exit_long_conditions"`
	ExitShortConditions json.RawMessage    `json:"exit_short_conditions"`
	StopLoss            *stopLossWireFormat `json:"stop_loss"`
}

type stopLossWireFormat struct {
	Type         strategy.StopLossType `json:"type"`
	BuyValueKey  string                `json:"buy_value_key"`
	SellValueKey string                `json:"sell_value_key"`
}

func parseStrategyDefinition(raw json.RawMessage, def *strategy.Definition) error {
	if len(raw) == 0 {
		return fmt.Errorf("strategy definition is empty")
	}

	var wire strategyWireFormat
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}

	var err error
	if def.EntryBuyConditions, err = decodeNode(wire.EntryBuyConditions); err != nil {
		return fmt.Errorf("entry_buy_conditions: %w", err)
	}
	if def.EntrySellConditions, err = decodeNode(wire.EntrySellConditions); err != nil {
		return fmt.Errorf("entry_sell_conditions: %w", err)
	}
	if def.ExitConditions, err = decodeNode(wire.ExitConditions); err != nil {
		return fmt.Errorf("exit_conditions: %w", err)
	}
	if def.ExitLongConditions, err = decodeNode(wire.ExitLongConditions); err != nil {
		return fmt.Errorf("exit_long_conditions: %w", err)
	}
	if def.ExitShortConditions, err = decodeNode(wire.ExitShortConditions); err != nil {
		return fmt.Errorf("exit_short_conditions: %w", err)
	}

	if wire.StopLoss != nil {
		def.StopLoss = &strategy.StopLoss{
			Type:         wire.StopLoss.Type,
			BuyValueKey:  wire.StopLoss.BuyValueKey,
			SellValueKey: wire.StopLoss.SellValueKey,
		}
	}
	return nil
}

// nodeWireFormat is the tagged-union shape every strategy.Node
// serializes to: a "type" discriminator plus whichever fields that node
// type uses.
type nodeWireFormat struct {
	Type         strategy.NodeType `json:"type"`
	Key          string            `json:"key"`
	Value        float64           `json:"value"`
	Conditions   []json.RawMessage `json:"conditions"`
	Left         json.RawMessage   `json:"left"`
	Right        json.RawMessage   `json:"right"`
	Line1        json.RawMessage   `json:"line1"`
	Line2        json.RawMessage   `json:"line2"`
	IndicatorKey string            `json:"indicator_key"`
	SignalKey    string            `json:"signal_key"`
}

func decodeNode(raw json.RawMessage) (strategy.Node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var wire nodeWireFormat
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	switch wire.Type {
	case strategy.IndicatorValue:
		return strategy.IndicatorValueNode{Key: wire.Key}, nil
	case strategy.PrevIndicatorValue:
		return strategy.PrevIndicatorValueNode{Key: wire.Key}, nil
	case strategy.Value:
		return strategy.ValueNode{Value: wire.Value}, nil
	case strategy.And:
		conds, err := decodeNodes(wire.Conditions)
		if err != nil {
			return nil, err
		}
		return strategy.AndNode{Conditions: conds}, nil
	case strategy.Or:
		conds, err := decodeNodes(wire.Conditions)
		if err != nil {
			return nil, err
		}
		return strategy.OrNode{Conditions: conds}, nil
	case strategy.GreaterThan:
		left, right, err := decodePair(wire.Left, wire.Right)
		if err != nil {
			return nil, err
		}
		return strategy.GreaterThanNode{Left: left, Right: right}, nil
	case strategy.LessThan:
		left, right, err := decodePair(wire.Left, wire.Right)
		if err != nil {
			return nil, err
		}
		return strategy.LessThanNode{Left: left, Right: right}, nil
	case strategy.Equals:
		left, right, err := decodePair(wire.Left, wire.Right)
		if err != nil {
			return nil, err
		}
		return strategy.EqualsNode{Left: left, Right: right}, nil
	case strategy.CrossoverUp:
		l1, l2, err := decodePair(wire.Line1, wire.Line2)
		if err != nil {
			return nil, err
		}
		return strategy.CrossoverUpNode{Line1: l1, Line2: l2}, nil
	case strategy.CrossoverDown:
		l1, l2, err := decodePair(wire.Line1, wire.Line2)
		if err != nil {
			return nil, err
		}
		return strategy.CrossoverDownNode{Line1: l1, Line2: l2}, nil
	case strategy.SuperTrendFlip:
		return strategy.SuperTrendFlipNode{IndicatorKey: wire.IndicatorKey}, nil
	case strategy.MACDCrossoverFlip:
		return strategy.MACDCrossoverFlipNode{IndicatorKey: wire.IndicatorKey, SignalKey: wire.SignalKey}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", wire.Type)
	}
}

func decodeNodes(raws []json.RawMessage) ([]strategy.Node, error) {
	nodes := make([]strategy.Node, 0, len(raws))
	for _, raw := range raws {
		n, err := decodeNode(raw)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func decodePair(a, b json.RawMessage) (strategy.Node, strategy.Node, error) {
	left, err := decodeNode(a)
	if err != nil {
		return nil, nil, err
	}
	right, err := decodeNode(b)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}
