// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tradeforge/core/kafka/offset"
)

type fakeCommitter struct {
	mu        sync.Mutex
	committed []int64
}

func (f *fakeCommitter) CommitRecords(ctx context.Context, recs ...*kgo.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range recs {
		f.committed = append(f.committed, r.Offset)
	}
	return nil
}

func (f *fakeCommitter) lastCommitted() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.committed) == 0 {
		return 0, false
	}
	return f.committed[len(f.committed)-1], true
}

type fakeDLQ struct {
	published []Message
	fail      bool
}

func (f *fakeDLQ) PublishDLQ(ctx context.Context, msg Message, cause error) error {
	if f.fail {
		return errors.New("dlq publish failed")
	}
	f.published = append(f.published, msg)
	return nil
}

func newTestTopicHandler(committer recordsCommitter, handler func(context.Context, Message) error, dlq DLQPublisher) *topicHandler {
	return &topicHandler{
		topic:     "test-topic",
		log:       logger(),
		metrics:   &metricsRecorder{},
		handler:   handler,
		committer: committer,
		tracker:   offset.New(),
		dlq:       dlq,
	}
}

func newConcurrentTestTopicHandler(committer recordsCommitter, handler func(context.Context, Message) error, maxConcurrent int) *topicHandler {
	th := newTestTopicHandler(committer, handler, nil)
	th.maxConcurrent = maxConcurrent
	return th
}

func records(offsets ...int64) []*kgo.Record {
	recs := make([]*kgo.Record, len(offsets))
	for i, o := range offsets {
		recs[i] = &kgo.Record{Topic: "test-topic", Partition: 0, Offset: o, Value: []byte("v")}
	}
	return recs
}

func TestTopicHandler_Handle(t *testing.T) {
	t.Run("commits through the last successfully processed offset", func(t *testing.T) {
		committer := &fakeCommitter{}
		th := newTestTopicHandler(committer, func(ctx context.Context, msg Message) error {
			return nil
		}, nil)

		err := th.Handle(context.Background(), records(0, 1, 2))
		require.NoError(t, err)

		last, ok := committer.lastCommitted()
		require.True(t, ok)
		assert.Equal(t, int64(2), last)
	})

	t.Run("a message published to the dlq is still commit-eligible", func(t *testing.T) {
		committer := &fakeCommitter{}
		dlq := &fakeDLQ{}
		th := newTestTopicHandler(committer, func(ctx context.Context, msg Message) error {
			return errors.New("processing failed")
		}, dlq)

		err := th.Handle(context.Background(), records(0))
		require.NoError(t, err)

		_, ok := committer.lastCommitted()
		assert.True(t, ok, "dlq-published message should advance the watermark")
		assert.Len(t, dlq.published, 1)
	})

	t.Run("a dlq publish failure blocks the watermark", func(t *testing.T) {
		committer := &fakeCommitter{}
		dlq := &fakeDLQ{fail: true}
		th := newTestTopicHandler(committer, func(ctx context.Context, msg Message) error {
			return errors.New("processing failed")
		}, dlq)

		err := th.Handle(context.Background(), records(0))
		require.NoError(t, err)

		_, ok := committer.lastCommitted()
		assert.False(t, ok, "a failed dlq publish must not advance the watermark")
	})

	t.Run("a failure with no dlq configured blocks the watermark", func(t *testing.T) {
		committer := &fakeCommitter{}
		th := newTestTopicHandler(committer, func(ctx context.Context, msg Message) error {
			return errors.New("processing failed")
		}, nil)

		err := th.Handle(context.Background(), records(0))
		require.NoError(t, err)

		_, ok := committer.lastCommitted()
		assert.False(t, ok)
	})

	t.Run("commits only the contiguous prefix when a later offset fails", func(t *testing.T) {
		committer := &fakeCommitter{}
		th := newTestTopicHandler(committer, func(ctx context.Context, msg Message) error {
			if string(msg.Value) == "v1" {
				return errors.New("boom")
			}
			return nil
		}, nil)

		recs := records(0, 1, 2)
		recs[1].Value = []byte("v1")

		err := th.Handle(context.Background(), recs)
		require.NoError(t, err)

		last, ok := committer.lastCommitted()
		require.True(t, ok)
		assert.Equal(t, int64(0), last, "offset 1 failed, so only offset 0 is committable")
	})

	t.Run("correlation id is propagated from the message header", func(t *testing.T) {
		committer := &fakeCommitter{}
		var gotID string
		th := newTestTopicHandler(committer, func(ctx context.Context, msg Message) error {
			id, _ := CorrelationID(ctx)
			gotID = id
			return nil
		}, nil)

		recs := records(0)
		recs[0].Headers = []kgo.RecordHeader{{Key: CorrelationIDHeader, Value: []byte("req-123")}}

		err := th.Handle(context.Background(), recs)
		require.NoError(t, err)
		assert.Equal(t, "req-123", gotID)
	})

	t.Run("correlation id is generated when absent", func(t *testing.T) {
		committer := &fakeCommitter{}
		var gotID string
		th := newTestTopicHandler(committer, func(ctx context.Context, msg Message) error {
			id, _ := CorrelationID(ctx)
			gotID = id
			return nil
		}, nil)

		err := th.Handle(context.Background(), records(0))
		require.NoError(t, err)
		assert.NotEmpty(t, gotID)
	})

	t.Run("an empty batch is a no-op", func(t *testing.T) {
		committer := &fakeCommitter{}
		th := newTestTopicHandler(committer, func(ctx context.Context, msg Message) error {
			t.Fatal("handler should not be called for an empty batch")
			return nil
		}, nil)

		err := th.Handle(context.Background(), nil)
		require.NoError(t, err)
	})

	t.Run("out-of-order completion under concurrent dispatch still commits a gap-free watermark", func(t *testing.T) {
		// offset 101 is made to finish after offset 102, mirroring a
		// handler whose processing time for a given message is not
		// monotonic in offset order.
		committer := &fakeCommitter{}
		th := newConcurrentTestTopicHandler(committer, func(ctx context.Context, msg Message) error {
			if string(msg.Value) == "slow" {
				time.Sleep(30 * time.Millisecond)
			}
			return nil
		}, 4)

		recs := records(100, 101, 102)
		recs[1].Value = []byte("slow")

		err := th.Handle(context.Background(), recs)
		require.NoError(t, err)

		last, ok := committer.lastCommitted()
		require.True(t, ok)
		assert.Equal(t, int64(102), last, "watermark should advance past all three offsets once 101 settles")

		_, ok = th.tracker.Watermark(offset.TopicPartition{Topic: "test-topic", Partition: 0})
		assert.False(t, ok, "tracker should have no remaining entries once every offset is committed")
	})
}
