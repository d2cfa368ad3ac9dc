// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import "fmt"

// ValidationError reports a message that failed schema or business-rule
// validation. It is never retryable: redelivering the same bytes will fail
// the same way.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("kafka: message failed validation: %s", e.Reason)
}

// Retryable implements [decorator.Retryable].
func (e ValidationError) Retryable() bool { return false }

// RetryableError wraps a transient failure (a dependency timeout, a
// connection reset) that is expected to succeed if retried.
type RetryableError struct {
	Cause error
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("kafka: retryable processing error: %v", e.Cause)
}

func (e RetryableError) Unwrap() error { return e.Cause }

// Retryable implements [decorator.Retryable].
func (e RetryableError) Retryable() bool { return true }

// FatalError reports a failure that will not be resolved by retrying, and
// that isn't a validation failure either (e.g. a programming invariant
// violation). Like ValidationError it is non-retryable.
type FatalError struct {
	Cause error
}

func (e FatalError) Error() string {
	return fmt.Sprintf("kafka: fatal processing error: %v", e.Cause)
}

func (e FatalError) Unwrap() error { return e.Cause }

// Retryable implements [decorator.Retryable].
func (e FatalError) Retryable() bool { return false }

// DLQPublishError reports that a message exhausted its retries and the
// attempt to publish it to the dead-letter topic also failed. The offset
// backing this message must NOT be committed: losing both the original
// processing attempt and its DLQ record would silently drop the message.
type DLQPublishError struct {
	OriginalCause error
	PublishCause  error
}

func (e DLQPublishError) Error() string {
	return fmt.Sprintf("kafka: failed to publish to dlq after processing error %v: %v", e.OriginalCause, e.PublishCause)
}
