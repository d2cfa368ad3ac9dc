// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tradeforge/core/indicator"
	"github.com/tradeforge/core/strategy"
)

// timeframeDurations lists the timeframes a backtest submission may name,
// each mapped to its bar duration so the lookback feasibility check can
// size the buffer window it asks ClickHouse about.
var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// Simulation parameter bounds, mirroring the reference's
// BacktestValidator.validate_simulation_params sanity checks.
const (
	minInitialBalance  = 100.0
	maxInitialBalance  = 1_000_000_000.0
	minCommissionPct   = 0.0
	maxCommissionPct   = 10.0
	minPositionSizePct = 0.01
	maxPositionSizePct = 100.0
)

// ChildJobSpec is one child job's request within a batch backtest
// submission: everything Validator needs to pre-validate it before any
// job row is written.
type ChildJobSpec struct {
	Ticker             string
	Timeframe          string
	StartDate          time.Time
	EndDate            time.Time
	StrategyID         string
	StrategyDefinition strategy.Definition
	SimulationParams   map[string]any
}

// StrategyOwner confirms a child job's strategy belongs to the
// submitting user.
type StrategyOwner interface {
	OwnedByUser(ctx context.Context, strategyID, userID string) (bool, error)
}

// DataAvailabilityChecker is the subset of clickhouse.Repository
// Validator uses to confirm a window (including its indicator lookback
// buffer) actually has candles behind it.
type DataAvailabilityChecker interface {
	RequiredCandlesCount(ctx context.Context, ticker, timeframe string, start, end time.Time) (uint64, error)
}

// KernelResolver is the subset of indicator.Registry Validator uses to
// look up a kernel's lookback requirement.
type KernelResolver interface {
	Build(desc indicator.Descriptor) (indicator.Kernel, error)
}

// ValidationError names which child (by index, 0-based) failed
// structural pre-validation and why.
type ValidationError struct {
	Index  int
	Ticker string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("backtest #%d (ticker: %s): %s", e.Index+1, e.Ticker, e.Reason)
}

// BatchValidationError aggregates every ValidationError found across a
// batch submission. Its presence means the whole batch is rejected; no
// partial batch is created, matching the reference's
// BatchValidator.validate_all_backtests.
type BatchValidationError struct {
	Errors     []*ValidationError
	TotalCount int
}

func (e *BatchValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("batch validation failed, %d of %d jobs invalid:\n%s",
		len(e.Errors), e.TotalCount, strings.Join(msgs, "\n"))
}

// ChildOutcome is one child's result after structural pre-validation has
// already passed for the whole batch: whether it's feasible to enqueue,
// and why not if it isn't.
type ChildOutcome struct {
	Index      int
	Feasible   bool
	FailReason string
}

// Validator eagerly pre-validates every child job spec in a batch
// submission. Structural failures (bad ticker, timeframe, date range,
// simulation params, or strategy ownership) reject the entire batch, so
// no partial batch is ever created. Once structure passes for every
// child, each child's indicator lookback feasibility is checked
// independently: an infeasible child does not reject the batch, it is
// simply reported as such so the caller can write it FAILED with
// counts_towards_limit=false instead of enqueueing it.
type Validator struct {
	tickers    TickerStore
	strategies StrategyOwner
	analyser   StrategyAnalyser
	registry   indicator.RegistryReader
	kernels    KernelResolver
	data       DataAvailabilityChecker
	log        *slog.Logger
}

// NewValidator wires a Validator from its collaborators. log defaults to
// slog.Default().
func NewValidator(
	tickers TickerStore,
	strategies StrategyOwner,
	analyser StrategyAnalyser,
	registry indicator.RegistryReader,
	kernels KernelResolver,
	data DataAvailabilityChecker,
	log *slog.Logger,
) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{
		tickers:    tickers,
		strategies: strategies,
		analyser:   analyser,
		registry:   registry,
		kernels:    kernels,
		data:       data,
		log:        log,
	}
}

// ValidateBatch runs structural pre-validation for every spec, rejecting
// the whole batch on any failure. If structure passes, it returns one
// ChildOutcome per spec reporting lookback feasibility.
func (v *Validator) ValidateBatch(ctx context.Context, userID string, specs []ChildJobSpec) ([]ChildOutcome, error) {
	var batchErrs []*ValidationError
	for i, spec := range specs {
		if err := v.validateStructure(ctx, userID, spec); err != nil {
			batchErrs = append(batchErrs, &ValidationError{Index: i, Ticker: spec.Ticker, Reason: err.Error()})
		}
	}
	if len(batchErrs) > 0 {
		v.log.WarnContext(ctx, "backtest validator: batch rejected",
			slog.Int("total", len(specs)), slog.Int("failed", len(batchErrs)))
		return nil, &BatchValidationError{Errors: batchErrs, TotalCount: len(specs)}
	}

	outcomes := make([]ChildOutcome, len(specs))
	for i, spec := range specs {
		feasible, reason, err := v.checkFeasibility(ctx, spec)
		if err != nil {
			// A feasibility-check failure (e.g. ClickHouse unreachable)
			// doesn't block creation: treat the child as feasible and let
			// the pipeline's own EnsureDataStage surface the problem,
			// mirroring validators.py's fail-open behavior for
			// check_data_sufficiency.
			v.log.WarnContext(ctx, "backtest validator: feasibility check errored, treating as feasible",
				slog.Int("index", i), slog.String("error", err.Error()))
			outcomes[i] = ChildOutcome{Index: i, Feasible: true}
			continue
		}
		outcomes[i] = ChildOutcome{Index: i, Feasible: feasible, FailReason: reason}
	}
	return outcomes, nil
}

func (v *Validator) validateStructure(ctx context.Context, userID string, spec ChildJobSpec) error {
	ticker := strings.TrimSpace(spec.Ticker)
	if ticker == "" {
		return fmt.Errorf("ticker must not be empty")
	}
	if _, err := v.tickers.Get(ctx, ticker); err != nil {
		return fmt.Errorf("ticker %q not found or inactive", ticker)
	}

	if _, ok := timeframeDurations[spec.Timeframe]; !ok {
		return fmt.Errorf("timeframe %q is not allowed", spec.Timeframe)
	}

	if !spec.StartDate.Before(spec.EndDate) {
		return fmt.Errorf("start date must be before end date")
	}
	now := time.Now()
	if spec.StartDate.After(now) {
		return fmt.Errorf("start date must not be in the future")
	}
	if spec.EndDate.After(now) {
		return fmt.Errorf("end date must not be in the future")
	}

	if err := validateSimulationParams(spec.SimulationParams); err != nil {
		return err
	}

	if strings.TrimSpace(spec.StrategyID) == "" {
		return fmt.Errorf("strategy_id must not be empty")
	}
	owned, err := v.strategies.OwnedByUser(ctx, spec.StrategyID, userID)
	if err != nil {
		return fmt.Errorf("failed to verify strategy ownership: %w", err)
	}
	if !owned {
		return fmt.Errorf("strategy not found or not owned by user")
	}

	return nil
}

func validateSimulationParams(params map[string]any) error {
	if len(params) == 0 {
		return nil
	}

	if v, ok := params["initial_balance"]; ok {
		balance, ok := toFloat(v)
		if !ok || balance <= 0 {
			return fmt.Errorf("initial_balance must be a positive number")
		}
		if balance < minInitialBalance || balance > maxInitialBalance {
			return fmt.Errorf("initial_balance must be between %.0f and %.0f", minInitialBalance, maxInitialBalance)
		}
	}

	if v, ok := params["commission_pct"]; ok {
		commission, ok := toFloat(v)
		if !ok || commission < 0 {
			return fmt.Errorf("commission_pct must be a non-negative number")
		}
		if commission < minCommissionPct || commission > maxCommissionPct {
			return fmt.Errorf("commission_pct must be between %.2f and %.2f", minCommissionPct, maxCommissionPct)
		}
	}

	if v, ok := params["position_size_pct"]; ok {
		size, ok := toFloat(v)
		if !ok || size <= 0 {
			return fmt.Errorf("position_size_pct must be a positive number")
		}
		if size < minPositionSizePct || size > maxPositionSizePct {
			return fmt.Errorf("position_size_pct must be between %.2f and %.2f", minPositionSizePct, maxPositionSizePct)
		}
	}

	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// checkFeasibility reports whether spec's indicator lookback requirement
// can be satisfied by the data already on hand. A strategy referencing
// no indicators, or an unresolvable timeframe duration, is always
// feasible.
func (v *Validator) checkFeasibility(ctx context.Context, spec ChildJobSpec) (feasible bool, reason string, err error) {
	required, err := v.analyser.ExtractRequiredIndicators(ctx, spec.StrategyDefinition)
	if err != nil {
		return false, "", fmt.Errorf("backtest: failed to extract required indicators: %w", err)
	}
	if len(required) == 0 {
		return true, "", nil
	}

	lookback, err := v.maxLookback(ctx, required)
	if err != nil {
		return false, "", err
	}
	if lookback == 0 {
		return true, "", nil
	}

	duration, ok := timeframeDurations[spec.Timeframe]
	if !ok {
		return true, "", nil
	}

	lookbackStart := spec.StartDate.Add(-time.Duration(lookback) * duration)
	count, err := v.data.RequiredCandlesCount(ctx, spec.Ticker, spec.Timeframe, lookbackStart, spec.StartDate)
	if err != nil {
		return false, "", fmt.Errorf("backtest: failed to check lookback data availability: %w", err)
	}
	if count < uint64(lookback) {
		return false, fmt.Sprintf(
			"insufficient data: %d indicator lookback candles required before %s, found %d",
			lookback, spec.StartDate.Format(time.RFC3339), count,
		), nil
	}
	return true, "", nil
}

func (v *Validator) maxLookback(ctx context.Context, required []strategy.RequiredIndicator) (int, error) {
	registry, err := v.registry.FullRegistry(ctx)
	if err != nil {
		return 0, fmt.Errorf("backtest: failed to load indicator registry: %w", err)
	}

	seen := make(map[string]struct{}, len(required))
	max := 0
	for _, ri := range required {
		if _, ok := seen[ri.BaseKey]; ok {
			continue
		}
		seen[ri.BaseKey] = struct{}{}

		entry, ok := registry[ri.BaseKey]
		if !ok {
			// An unregistered indicator is the kernel registry's problem to
			// surface at compute time, not a reason to block validation.
			continue
		}
		kernel, err := v.kernels.Build(indicator.Descriptor{Name: entry.Name, Params: entry.Params})
		if err != nil {
			continue
		}
		if lb := kernel.Lookback(); lb > max {
			max = lb
		}
	}
	return max, nil
}
