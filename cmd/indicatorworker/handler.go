// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tradeforge/core/indicator"
	"github.com/tradeforge/core/kafka"
	"github.com/tradeforge/core/store/clickhouse"
)

// candleSource is the subset of clickhouse.Repository this worker reads
// candles through.
type candleSource interface {
	Candles(ctx context.Context, ticker, timeframe string, start, end time.Time) ([]clickhouse.Candle, error)
}

// publisher is the subset of kafka.Producer this worker publishes
// completion messages through.
type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers []kafka.Header) error
}

// calcRequestHandler computes every indicator named in an
// indicator.CalcRequest and publishes a completion message once done, so
// any backtest waiting on the round trip can resume.
type calcRequestHandler struct {
	candles   candleSource
	processor *indicator.Processor
	producer  publisher
}

func (h *calcRequestHandler) Handle(ctx context.Context, msg kafka.Message) error {
	req, err := indicator.DecodeCalcRequest(msg.Value)
	if err != nil {
		return fmt.Errorf("indicatorworker: failed to decode calculation request: %w", err)
	}

	start, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		return fmt.Errorf("indicatorworker: invalid start_date %q: %w", req.StartDate, err)
	}
	end, err := time.Parse(time.RFC3339, req.EndDate)
	if err != nil {
		return fmt.Errorf("indicatorworker: invalid end_date %q: %w", req.EndDate, err)
	}

	candles, err := h.candles.Candles(ctx, req.Ticker, req.Timeframe, start, end)
	if err != nil {
		return fmt.Errorf("indicatorworker: failed to load candles for %s/%s: %w", req.Ticker, req.Timeframe, err)
	}

	descriptors := make([]indicator.Descriptor, len(req.Indicators))
	for i, ind := range req.Indicators {
		descriptors[i] = indicator.Descriptor{Name: ind.Name, Params: ind.Params}
	}

	correlationID := headerValue(msg, kafka.CorrelationIDHeader)
	_, err = h.processor.ProcessRequest(ctx, indicator.Request{
		JobID:             req.JobID,
		CorrelationID:     correlationID,
		Ticker:            req.Ticker,
		Timeframe:         req.Timeframe,
		OriginalStartDate: start,
		Descriptors:       descriptors,
	}, candles)
	if err != nil {
		return fmt.Errorf("indicatorworker: failed to process calculation request for job %q: %w", req.JobID, err)
	}

	success := indicator.CalcSuccess{
		JobID:         req.JobID,
		CorrelationID: correlationID,
		Ticker:        req.Ticker,
		Timeframe:     req.Timeframe,
	}
	payload, err := json.Marshal(success)
	if err != nil {
		return fmt.Errorf("indicatorworker: failed to encode completion message: %w", err)
	}

	headers := []kafka.Header{{Key: kafka.CorrelationIDHeader, Value: []byte(correlationID)}}
	if err := h.producer.Publish(ctx, indicator.CalcSuccessTopic, []byte(req.JobID), payload, headers); err != nil {
		return fmt.Errorf("indicatorworker: failed to publish completion message for job %q: %w", req.JobID, err)
	}
	return nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
