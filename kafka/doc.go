// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafka is the message transport the indicator and backtest
// processing cores consume from. It wraps franz-go's consumer group client
// in a goroutine-per-partition event loop ([Runtime.ProcessQueue]) and adds
// the concerns message-driven processing needs on top of raw delivery:
//
//   - At-least-once commit semantics via a per-partition [offset.Tracker]
//     that only ever commits the contiguous prefix of terminally-resolved
//     offsets, so a crash never skips a still-in-flight message.
//   - A decorator chain (retry, timeout, circuit breaker, execution-time
//     logging — package [github.com/tradeforge/core/kafka/decorator]) around
//     every [Handler] invocation.
//   - Dead-letter publishing for messages that exhaust retries, via
//     [DLQPublisher]; a DLQ publish failure still blocks the offset so the
//     message isn't silently dropped.
//   - Correlation ID propagation (see [CorrelationIDHeader]) so the
//     round-trip request/response pattern used by the backtest pipeline can
//     match an asynchronous reply back to its request.
//
// Register topic handlers with [Consume] when building a [Runtime] via
// [NewRuntime], then call [Runtime.ProcessQueue] to run it until ctx is
// cancelled.
package kafka
