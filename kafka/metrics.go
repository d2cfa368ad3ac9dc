// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/tradeforge/core/kafka"
)

// metricsRecorder holds OTel metric instruments for tracking Kafka message processing.
type metricsRecorder struct {
	messagesProcessed   metric.Int64Counter
	messagesCommitted   metric.Int64Counter
	processingFailures  metric.Int64Counter
	dlqSent             metric.Int64Counter
	retries             metric.Int64Counter
	processingDuration  metric.Float64Histogram
	concurrencyCurrent  metric.Int64Gauge
	concurrencyMax      metric.Int64Gauge
}

// newMetricsRecorder creates a new metricsRecorder with initialized metric instruments.
func newMetricsRecorder() (*metricsRecorder, error) {
	meter := otel.GetMeterProvider().Meter(meterName)

	messagesProcessed, err := meter.Int64Counter(
		"kafka.consumer.messages.processed",
		metric.WithDescription("Total number of Kafka messages processed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	messagesCommitted, err := meter.Int64Counter(
		"kafka.consumer.messages.committed",
		metric.WithDescription("Total number of Kafka messages committed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	processingFailures, err := meter.Int64Counter(
		"kafka.consumer.processing.failures",
		metric.WithDescription("Total number of Kafka message processing failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	dlqSent, err := meter.Int64Counter(
		"kafka.consumer.dlq.sent",
		metric.WithDescription("Total number of messages published to a dead-letter topic"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"kafka.consumer.retries",
		metric.WithDescription("Total number of handler retry attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	processingDuration, err := meter.Float64Histogram(
		"kafka.consumer.processing.duration",
		metric.WithDescription("Time spent in a single message's handler call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	concurrencyCurrent, err := meter.Int64Gauge(
		"kafka.consumer.concurrency.current",
		metric.WithDescription("Number of messages currently being handled concurrently on a partition"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	concurrencyMax, err := meter.Int64Gauge(
		"kafka.consumer.concurrency.max",
		metric.WithDescription("Configured maximum concurrent messages per partition"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsRecorder{
		messagesProcessed:  messagesProcessed,
		messagesCommitted:  messagesCommitted,
		processingFailures: processingFailures,
		dlqSent:            dlqSent,
		retries:            retries,
		processingDuration: processingDuration,
		concurrencyCurrent: concurrencyCurrent,
		concurrencyMax:     concurrencyMax,
	}, nil
}

// recordMessageProcessed records a successfully processed message.
func (m *metricsRecorder) recordMessageProcessed(ctx context.Context, topic string, partition int32, deliverySemantics string) {
	if m.messagesProcessed == nil {
		return
	}
	m.messagesProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.Int("partition", int(partition)),
			attribute.String("delivery_semantics", deliverySemantics),
		),
	)
}

// recordMessagesCommitted records successfully committed messages.
func (m *metricsRecorder) recordMessagesCommitted(ctx context.Context, topic string, partition int32, count int) {
	if m.messagesCommitted == nil {
		return
	}
	m.messagesCommitted.Add(ctx, int64(count),
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.Int("partition", int(partition)),
		),
	)
}

// recordProcessingFailure records a message processing failure.
func (m *metricsRecorder) recordProcessingFailure(ctx context.Context, topic string, partition int32, deliverySemantics string) {
	if m.processingFailures == nil {
		return
	}
	m.processingFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.Int("partition", int(partition)),
			attribute.String("delivery_semantics", deliverySemantics),
		),
	)
}

// recordDLQSent records a message published to a dead-letter topic.
func (m *metricsRecorder) recordDLQSent(ctx context.Context, topic string, partition int32) {
	if m.dlqSent == nil {
		return
	}
	m.dlqSent.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.Int("partition", int(partition)),
		),
	)
}

// recordRetry records a single retry attempt.
func (m *metricsRecorder) recordRetry(ctx context.Context, topic string) {
	if m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// recordProcessingDuration records how long a single handler call took.
func (m *metricsRecorder) recordProcessingDuration(ctx context.Context, topic string, d time.Duration) {
	if m.processingDuration == nil {
		return
	}
	m.processingDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("topic", topic)))
}

// recordConcurrency reports the current in-flight message count and the
// configured maximum for a partition's dispatcher.
func (m *metricsRecorder) recordConcurrency(ctx context.Context, topic string, partition int32, current, max int64) {
	if m.concurrencyCurrent == nil || m.concurrencyMax == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.Int("partition", int(partition)),
	)
	m.concurrencyCurrent.Record(ctx, current, attrs)
	m.concurrencyMax.Record(ctx, max, attrs)
}
