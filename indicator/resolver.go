// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package indicator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradeforge/core/kafka"
	"github.com/tradeforge/core/kafka/decorator"
	"github.com/tradeforge/core/store/clickhouse"
	"github.com/tradeforge/core/store/postgres"

	"github.com/google/uuid"
)

// CalcRequestTopic is the topic a Resolver publishes calculation
// requests to; the indicator worker consumes it and, once done,
// publishes a reply that lets the waiting backtest resume.
const CalcRequestTopic = "indicator.calculation.requested"

// completenessRetry matches the reference's three-attempt exponential
// backoff (1s, 2s, capped at 10s) around the ClickHouse completeness
// check, which is the one call in the round-trip path most exposed to
// a transient connection-pool hiccup.
var completenessRetry = decorator.RetryOptions{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    10 * time.Second,
}

// CalcRequest is the wire shape published to CalcRequestTopic.
type CalcRequest struct {
	JobID      string                 `json:"job_id"`
	Ticker     string                 `json:"ticker"`
	Timeframe  string                 `json:"timeframe"`
	StartDate  string                 `json:"start_date"`
	EndDate    string                 `json:"end_date"`
	Indicators []CalcRequestIndicator `json:"indicators"`
}

// CalcRequestIndicator names one indicator to compute within a CalcRequest.
type CalcRequestIndicator struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// CompletenessChecker is the subset of clickhouse.Repository a Resolver
// needs, narrowed to an interface so tests can substitute a fake
// instead of a real ClickHouse connection.
type CompletenessChecker interface {
	MissingIndicatorPeriods(ctx context.Context, ticker, timeframe string, start, end time.Time, required []clickhouse.Pair) ([]clickhouse.Pair, error)
}

// RegistryReader is the subset of postgres.IndicatorRepository a
// Resolver needs to turn a missing (base key, value key) pair back into
// a calculation request.
type RegistryReader interface {
	FullRegistry(ctx context.Context) (map[string]postgres.RegistryEntry, error)
}

// Publisher is the subset of kafka.Producer a Resolver needs to publish
// calculation requests.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers []kafka.Header) error
}

// Resolver checks whether a backtest's required indicators are already
// available in ClickHouse, and if not, publishes a calculation request
// and reports that the caller must wait for the asynchronous reply
// (the "round trip") before retrying.
type Resolver struct {
	repo       CompletenessChecker
	producer   Publisher
	indicators RegistryReader
	log        *slog.Logger
}

// NewResolver wires a Resolver from its collaborators. log defaults to
// slog.Default() if nil.
func NewResolver(repo CompletenessChecker, producer Publisher, indicators RegistryReader, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{repo: repo, producer: producer, indicators: indicators, log: log}
}

// EnsureAvailable reports whether every (base key, value key) pair in
// required is already present for the window. If any are missing, it
// publishes one calculation request covering all of them and returns
// ready=false: the caller (the ensure-data pipeline stage) must halt and
// wait for the corresponding reply message rather than retry in a loop.
func (r *Resolver) EnsureAvailable(ctx context.Context, jobID, correlationID, ticker, timeframe string, start, end time.Time, required []clickhouse.Pair) (ready bool, err error) {
	var missing []clickhouse.Pair

	checkCompleteness := decorator.Retry(completenessRetry, func(ctx context.Context, _ struct{}) error {
		m, err := r.repo.MissingIndicatorPeriods(ctx, ticker, timeframe, start, end, required)
		if err != nil {
			return err
		}
		missing = m
		return nil
	})
	if err := checkCompleteness(ctx, struct{}{}); err != nil {
		return false, fmt.Errorf("indicator: failed to verify data completeness: %w", err)
	}

	if len(missing) == 0 {
		r.log.InfoContext(ctx, "indicator resolver all indicators available",
			slog.String("ticker", ticker), slog.String("timeframe", timeframe),
			slog.Int("indicators_count", len(required)), slog.String("correlation_id", correlationID))
		return true, nil
	}

	r.log.InfoContext(ctx, "indicator resolver missing indicators detected",
		slog.String("ticker", ticker), slog.String("timeframe", timeframe),
		slog.Int("missing_count", len(missing)), slog.String("correlation_id", correlationID))

	if err := r.requestCalculation(ctx, jobID, correlationID, ticker, timeframe, start, end, missing); err != nil {
		return false, err
	}
	return false, nil
}

func (r *Resolver) requestCalculation(ctx context.Context, jobID, correlationID, ticker, timeframe string, start, end time.Time, missing []clickhouse.Pair) error {
	registry, err := r.indicators.FullRegistry(ctx)
	if err != nil {
		return fmt.Errorf("indicator: failed to load registry for calculation request: %w", err)
	}

	seen := make(map[string]struct{}, len(missing))
	var toCalculate []CalcRequestIndicator
	for _, pair := range missing {
		if _, ok := seen[pair.BaseKey]; ok {
			continue
		}
		seen[pair.BaseKey] = struct{}{}

		entry, ok := registry[pair.BaseKey]
		if !ok {
			continue
		}
		toCalculate = append(toCalculate, CalcRequestIndicator{Name: entry.Name, Params: entry.Params})
	}

	req := CalcRequest{
		JobID:      jobID,
		Ticker:     ticker,
		Timeframe:  timeframe,
		StartDate:  start.Format(time.RFC3339),
		EndDate:    end.Format(time.RFC3339),
		Indicators: toCalculate,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("indicator: failed to encode calculation request: %w", err)
	}

	corrID := correlationID
	if corrID == "" {
		corrID = jobID
	}
	if corrID == "" {
		corrID = uuid.NewString()
	}

	headers := []kafka.Header{{Key: kafka.CorrelationIDHeader, Value: []byte(corrID)}}
	if err := r.producer.Publish(ctx, CalcRequestTopic, []byte(jobID), payload, headers); err != nil {
		return fmt.Errorf("indicator: failed to publish calculation request: %w", err)
	}

	r.log.InfoContext(ctx, "indicator resolver calculation requested",
		slog.String("job_id", jobID), slog.Int("indicators_count", len(toCalculate)),
		slog.String("correlation_id", corrID))
	return nil
}
