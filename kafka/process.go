// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tradeforge/core/kafka/decorator"
	"github.com/tradeforge/core/kafka/offset"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/sourcegraph/conc/pool"
	"github.com/twmb/franz-go/pkg/kgo"
)

// CorrelationIDHeader is the Kafka header key carrying a request's
// correlation ID across the async boundary: a round-trip response carries
// the same value its request was published with, so a caller can match the
// two without a synchronous reply channel.
const CorrelationIDHeader = "correlation_id"

// Handler processes a single decoded [Message]. Handlers should return a
// [ValidationError] or [FatalError] for failures that redelivery can't fix,
// and a [RetryableError] (or any other error, which defaults to retryable)
// for transient failures.
type Handler interface {
	Handle(context.Context, Message) error
}

// HandlerFunc is an adapter to allow ordinary functions to implement
// [Handler].
type HandlerFunc func(context.Context, Message) error

// Handle implements [Handler].
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// DLQPublisher hands a message that exhausted its retries off to a
// dead-letter topic for later inspection or replay.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, msg Message, cause error) error
}

// TopicOptions configures how a single topic's messages are processed.
type TopicOptions struct {
	Retry                 decorator.RetryOptions
	Timeout               time.Duration
	CircuitBreaker        *gobreaker.CircuitBreaker
	DLQ                   DLQPublisher
	MaxConcurrentMessages int
}

// TopicOption customizes [TopicOptions].
type TopicOption func(*TopicOptions)

// WithRetry overrides the retry policy applied before a message is
// considered terminally failed.
func WithRetry(opts decorator.RetryOptions) TopicOption {
	return func(o *TopicOptions) {
		o.Retry = opts
	}
}

// WithTimeout bounds how long a single Handle call may run.
func WithTimeout(d time.Duration) TopicOption {
	return func(o *TopicOptions) {
		o.Timeout = d
	}
}

// WithCircuitBreaker shares a [gobreaker.CircuitBreaker] across every
// message on the topic, so a failing downstream dependency sheds load
// instead of queuing retries behind it.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) TopicOption {
	return func(o *TopicOptions) {
		o.CircuitBreaker = cb
	}
}

// WithDLQ registers where messages that exhaust retries are sent.
func WithDLQ(pub DLQPublisher) TopicOption {
	return func(o *TopicOptions) {
		o.DLQ = pub
	}
}

// WithMaxConcurrentMessages bounds how many messages from a single fetched
// batch (i.e. a single partition) topicHandler.Handle dispatches at once. A
// value <= 0 processes records one at a time, in fetch order. Values > 1 let
// handler calls for distinct offsets complete out of order; the offset
// tracker reconciles that into a safe, gap-free commit watermark.
func WithMaxConcurrentMessages(n int) TopicOption {
	return func(o *TopicOptions) {
		o.MaxConcurrentMessages = n
	}
}

// Consume registers topic to be processed by h, wrapped with the configured
// retry/timeout/circuit-breaker decorators, offset tracking, and DLQ
// publishing. Within a partition, up to MaxConcurrentMessages handler calls
// run concurrently (bounded by a [pool.ContextPool] owned by the returned
// topicHandler); completions can arrive out of order, and offsets are only
// committed up through the contiguous prefix of terminal
// (successful-or-DLQ'd) offsets, per [offset.Tracker]. The event loop set up
// by [Runtime.ProcessQueue] still runs one goroutine per partition feeding
// batches to this handler — the concurrency bound configured here governs
// fan-out *within* a batch, not across partitions.
func Consume(topic string, h Handler, opts ...TopicOption) Option {
	var cfg TopicOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	tracker := offset.New()
	metrics := mustNewMetricsRecorder()

	maxConcurrent := cfg.MaxConcurrentMessages
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return func(o *Options) {
		o.topics[topic] = func(committer recordsCommitter) recordsHandler {
			return &topicHandler{
				topic:         topic,
				log:           logger(),
				metrics:       metrics,
				handler:       decorate(h, cfg, metrics, topic),
				committer:     committer,
				tracker:       tracker,
				dlq:           cfg.DLQ,
				maxConcurrent: maxConcurrent,
			}
		}
	}
}

func decorate(h Handler, cfg TopicOptions, metrics *metricsRecorder, topic string) decorator.Handler[Message] {
	base := decorator.Handler[Message](h.Handle)

	if cfg.CircuitBreaker != nil {
		base = decorator.CircuitBreaker(cfg.CircuitBreaker, base)
	}
	if cfg.Timeout > 0 {
		base = decorator.Timeout(cfg.Timeout, base)
	}

	retryOpts := cfg.Retry
	retryOpts.OnRetry = func(ctx context.Context, attempt int, delay time.Duration) {
		metrics.recordRetry(ctx, topic)
	}
	base = decorator.Retry(retryOpts, base)
	base = decorator.LogExecutionTime(logger(), "kafka.topic_handler", base)
	return base
}

func mustNewMetricsRecorder() *metricsRecorder {
	m, err := newMetricsRecorder()
	if err != nil {
		// The only failure mode is a misbehaving meter provider
		// implementation; metrics are instrumentation, not a reason to
		// refuse to process messages.
		return &metricsRecorder{}
	}
	return m
}

type topicHandler struct {
	topic         string
	log           *slog.Logger
	metrics       *metricsRecorder
	handler       decorator.Handler[Message]
	committer     recordsCommitter
	tracker       *offset.Tracker
	dlq           DLQPublisher
	maxConcurrent int

	inFlight atomic.Int64
}

// Handle implements recordsHandler. It dispatches every record in the batch
// (handed to it by the event loop in fetch order for a single partition, one
// batch at a time) to up to maxConcurrent concurrent handler calls, tracking
// each record's offset before dispatch and reconciling out-of-order
// completions through [offset.Tracker]. It commits the contiguous success
// watermark once every record in the batch has settled.
func (th *topicHandler) Handle(ctx context.Context, records []*kgo.Record) error {
	if len(records) == 0 {
		return nil
	}

	tp := offset.TopicPartition{Topic: th.topic, Partition: records[0].Partition}

	for _, rec := range records {
		th.tracker.Track(tp, rec.Offset)
	}

	maxConcurrent := th.maxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	th.metrics.recordConcurrency(ctx, th.topic, records[0].Partition, 0, int64(maxConcurrent))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(maxConcurrent)
	for _, rec := range records {
		rec := rec
		p.Go(func(ctx context.Context) error {
			th.inFlight.Add(1)
			th.metrics.recordConcurrency(ctx, th.topic, rec.Partition, th.inFlight.Load(), int64(maxConcurrent))
			defer func() {
				th.inFlight.Add(-1)
				th.metrics.recordConcurrency(ctx, th.topic, rec.Partition, th.inFlight.Load(), int64(maxConcurrent))
			}()
			th.handleRecord(ctx, tp, rec)
			return nil
		})
	}
	// Per-record failures are folded into the offset tracker rather than
	// surfaced here; a non-nil error from Wait would only happen if a task
	// itself panicked.
	if err := p.Wait(); err != nil {
		return err
	}

	commitOffset, ok := th.tracker.Watermark(tp)
	if !ok {
		return nil
	}

	last := records[0]
	for _, rec := range records {
		if rec.Offset == commitOffset-1 {
			last = rec
			break
		}
	}

	err := th.committer.CommitRecords(ctx, last)
	if err != nil {
		return err
	}
	th.metrics.recordMessagesCommitted(ctx, th.topic, last.Partition, 1)
	return nil
}

// handleRecord runs the decorated handler for a single record and reconciles
// the outcome into th.tracker. It may run concurrently with handleRecord
// calls for other offsets in the same batch, so it touches no shared state
// besides the tracker (which is itself safe for concurrent use) and the
// metrics recorder.
func (th *topicHandler) handleRecord(ctx context.Context, tp offset.TopicPartition, rec *kgo.Record) {
	msg := toMessage(rec)
	ctx = withCorrelationID(ctx, msg)

	start := time.Now()
	err := th.handler(ctx, msg)
	th.metrics.recordProcessingDuration(ctx, th.topic, time.Since(start))

	if err == nil {
		th.tracker.Complete(tp, rec.Offset, offset.Success)
		th.metrics.recordMessageProcessed(ctx, th.topic, rec.Partition, "at_least_once")
		return
	}

	th.metrics.recordProcessingFailure(ctx, th.topic, rec.Partition, "at_least_once")

	if th.dlq == nil {
		th.log.ErrorContext(ctx, "message processing failed terminally and no dlq is configured",
			TopicAttr(th.topic), OffsetAttr(rec.Offset), slog.Any("error", err))
		th.tracker.Complete(tp, rec.Offset, offset.Failed)
		return
	}

	dlqErr := th.dlq.PublishDLQ(ctx, msg, err)
	if dlqErr != nil {
		th.log.ErrorContext(ctx, "failed to publish message to dlq",
			TopicAttr(th.topic), OffsetAttr(rec.Offset), slog.Any("error", dlqErr))
		th.tracker.Complete(tp, rec.Offset, offset.Failed)
		return
	}

	th.metrics.recordDLQSent(ctx, th.topic, rec.Partition)
	th.log.WarnContext(ctx, "message published to dlq after exhausting retries",
		TopicAttr(th.topic), OffsetAttr(rec.Offset), slog.Any("cause", err))
	th.tracker.Complete(tp, rec.Offset, offset.Success)
}

func toMessage(rec *kgo.Record) Message {
	headers := make([]Header, len(rec.Headers))
	for i, h := range rec.Headers {
		headers[i] = Header{Key: h.Key, Value: h.Value}
	}
	return Message{
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   headers,
		Timestamp: rec.Timestamp,
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
	}
}

type correlationIDKey struct{}

// CorrelationID returns the correlation ID attached to ctx, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey{}).(string)
	return id, ok
}

func withCorrelationID(ctx context.Context, msg Message) context.Context {
	for _, h := range msg.Headers {
		if h.Key == CorrelationIDHeader && len(h.Value) > 0 {
			return context.WithValue(ctx, correlationIDKey{}, string(h.Value))
		}
	}
	return context.WithValue(ctx, correlationIDKey{}, uuid.NewString())
}
