// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tradeforge/core/lock"
	"github.com/tradeforge/core/store/clickhouse"
)

// DefaultLockOptions bounds how long Processor waits to acquire a
// per-indicator lock before giving up and reporting a retryable error.
var DefaultLockOptions = lock.AcquireOptions{
	Timeout:      30 * time.Second,
	PollInterval: 500 * time.Millisecond,
	TTL:          2 * time.Minute,
}

// LockTimeoutError reports that a per-indicator lock could not be
// acquired before the wait budget ran out. It is retryable: the holder
// currently computing this indicator is expected to finish and release.
type LockTimeoutError struct {
	LockKey string
}

func (e LockTimeoutError) Error() string {
	return fmt.Sprintf("indicator: timed out waiting to acquire lock %q", e.LockKey)
}

// Retryable implements decorator.Retryable.
func (e LockTimeoutError) Retryable() bool { return true }

// Request is a single indicator batch calculation request: a ticker and
// timeframe window, the set of indicators needed, and the job this
// computation is being done on behalf of (for logging/correlation only;
// the computed values aren't scoped to the job).
type Request struct {
	JobID             string
	CorrelationID     string
	Ticker            string
	Timeframe         string
	OriginalStartDate time.Time
	Descriptors       []Descriptor
}

// Locker is the subset of lock.Service a Processor needs, narrowed to
// an interface so tests can substitute a fake instead of a real Redis
// connection.
type Locker interface {
	AcquireWithBlockingWait(ctx context.Context, key string, opts lock.AcquireOptions) (bool, error)
	Release(ctx context.Context, key string) error
}

// IndicatorStore is the subset of clickhouse.Repository a Processor
// writes through, narrowed to an interface so tests can substitute a
// fake instead of a real ClickHouse connection.
type IndicatorStore interface {
	InsertIndicatorBatch(ctx context.Context, points []clickhouse.IndicatorPoint) error
}

// Processor computes every indicator named in a Request over the
// candles backing its window and bulk-inserts the results. Each
// indicator is processed independently under its own distributed lock
// so that two workers consuming overlapping requests for the same
// (ticker, timeframe, indicator) never compute and insert concurrently.
// Processing stops at the first indicator that fails; the indicators
// after it in the request are not attempted.
type Processor struct {
	repo     IndicatorStore
	registry *Registry
	locks    Locker
	log      *slog.Logger

	lockOpts lock.AcquireOptions
}

// NewProcessor wires a Processor from its collaborators. log defaults to
// slog.Default() if nil.
func NewProcessor(repo IndicatorStore, registry *Registry, locks Locker, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{repo: repo, registry: registry, locks: locks, log: log, lockOpts: DefaultLockOptions}
}

// Result summarizes a ProcessRequest run.
type Result struct {
	Processed int
	Skipped   []string
}

// ProcessRequest computes and stores every indicator in req, one at a
// time, each under its own ticker:timeframe:indicator lock. An
// indicator whose kernel produces no in-window output is skipped and
// logged rather than treated as an error, matching that a kernel's
// lookback can legitimately consume the entire requested window.
func (p *Processor) ProcessRequest(ctx context.Context, req Request, candles []clickhouse.Candle) (Result, error) {
	var result Result
	version := time.Now().UnixMicro()

	for _, desc := range req.Descriptors {
		lockKey := lock.IndicatorLockKey(req.Ticker, req.Timeframe, desc.Name)

		acquired, err := p.locks.AcquireWithBlockingWait(ctx, lockKey, p.lockOpts)
		if err != nil {
			return result, fmt.Errorf("indicator: failed to acquire lock %q: %w", lockKey, err)
		}
		if !acquired {
			p.log.ErrorContext(ctx, "indicator processor lock timeout",
				slog.String("job_id", req.JobID),
				slog.String("indicator_key", desc.Name),
				slog.String("correlation_id", req.CorrelationID))
			return result, LockTimeoutError{LockKey: lockKey}
		}

		err = p.processOne(ctx, req, desc, candles, version, &result)
		releaseErr := p.locks.Release(ctx, lockKey)
		if releaseErr != nil {
			p.log.WarnContext(ctx, "failed to release indicator lock",
				slog.String("lock_key", lockKey), slog.Any("error", releaseErr))
		}
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

func (p *Processor) processOne(ctx context.Context, req Request, desc Descriptor, candles []clickhouse.Candle, version int64, result *Result) error {
	p.log.DebugContext(ctx, "indicator processor processing",
		slog.String("job_id", req.JobID),
		slog.String("indicator_key", desc.Name),
		slog.String("correlation_id", req.CorrelationID))

	kernel, err := p.registry.Build(desc)
	if err != nil {
		return fmt.Errorf("indicator: failed to build kernel %q: %w", desc.Name, err)
	}

	outputs, err := kernel.Compute(candles)
	if err != nil {
		return fmt.Errorf("indicator: failed to compute %q: %w", desc.Name, err)
	}

	points := pivotToLong(req, desc, outputs, candles, version)
	if len(points) == 0 {
		p.log.WarnContext(ctx, "indicator processor produced no data",
			slog.String("job_id", req.JobID),
			slog.String("indicator_key", desc.Name),
			slog.String("correlation_id", req.CorrelationID))
		result.Skipped = append(result.Skipped, desc.Name)
		return nil
	}

	if err := p.repo.InsertIndicatorBatch(ctx, points); err != nil {
		return fmt.Errorf("indicator: failed to save %q: %w", desc.Name, err)
	}

	p.log.InfoContext(ctx, "indicator processor saved",
		slog.String("job_id", req.JobID),
		slog.String("indicator_key", desc.Name),
		slog.Int("records_count", len(points)),
		slog.String("correlation_id", req.CorrelationID))

	result.Processed++
	return nil
}

// pivotToLong flattens a kernel's {value_key: []float64} output into the
// long-format rows the ClickHouse schema stores, dropping candles before
// originalStartDate (the lookback warmup window) and any NaN value (a
// kernel that hasn't warmed up yet for that candle).
func pivotToLong(req Request, desc Descriptor, outputs map[string][]float64, candles []clickhouse.Candle, version int64) []clickhouse.IndicatorPoint {
	var points []clickhouse.IndicatorPoint

	for valueKey, values := range outputs {
		for i, candle := range candles {
			if i >= len(values) {
				break
			}
			if candle.Begin.Before(req.OriginalStartDate) {
				continue
			}
			v := values[i]
			if math.IsNaN(v) {
				continue
			}
			points = append(points, clickhouse.IndicatorPoint{
				Ticker:       req.Ticker,
				Timeframe:    req.Timeframe,
				Begin:        candle.Begin,
				IndicatorKey: desc.Name,
				ValueKey:     valueKey,
				Value:        v,
				Version:      version,
			})
		}
	}
	return points
}
