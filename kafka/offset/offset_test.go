// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package offset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Watermark(t *testing.T) {
	tp := TopicPartition{Topic: "orders", Partition: 0}

	t.Run("is not ok until the lowest tracked offset succeeds", func(t *testing.T) {
		tr := New()
		tr.Track(tp, 0)
		tr.Track(tp, 1)
		tr.Complete(tp, 1, Success)

		_, ok := tr.Watermark(tp)
		assert.False(t, ok)
	})

	t.Run("advances only through the contiguous success prefix", func(t *testing.T) {
		tr := New()
		tr.Track(tp, 0)
		tr.Track(tp, 1)
		tr.Track(tp, 2)
		tr.Complete(tp, 0, Success)
		tr.Complete(tp, 1, Success)

		commit, ok := tr.Watermark(tp)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, int64(2), commit)

		_, ok = tr.Watermark(tp)
		assert.False(t, ok, "offset 2 is still pending so no further watermark should be reported")
	})

	t.Run("never advances past a failed offset", func(t *testing.T) {
		tr := New()
		tr.Track(tp, 5)
		tr.Track(tp, 6)
		tr.Complete(tp, 5, Failed)
		tr.Complete(tp, 6, Success)

		_, ok := tr.Watermark(tp)
		assert.False(t, ok)
	})

	t.Run("prunes committed offsets so they aren't reported twice", func(t *testing.T) {
		tr := New()
		tr.Track(tp, 0)
		tr.Complete(tp, 0, Success)

		commit, ok := tr.Watermark(tp)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, int64(1), commit)

		tr.Track(tp, 1)
		tr.Complete(tp, 1, Success)

		commit, ok = tr.Watermark(tp)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, int64(2), commit)
	})

	t.Run("tracks partitions of the same topic independently", func(t *testing.T) {
		tr := New()
		tp0 := TopicPartition{Topic: "orders", Partition: 0}
		tp1 := TopicPartition{Topic: "orders", Partition: 1}

		tr.Track(tp0, 0)
		tr.Track(tp1, 0)
		tr.Complete(tp1, 0, Success)

		_, ok := tr.Watermark(tp0)
		assert.False(t, ok)

		commit, ok := tr.Watermark(tp1)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, int64(1), commit)
	})
}

func TestTracker_Drop(t *testing.T) {
	t.Run("removes all in-flight state for the partition", func(t *testing.T) {
		tp := TopicPartition{Topic: "orders", Partition: 0}

		tr := New()
		tr.Track(tp, 0)
		tr.Drop(tp)

		_, ok := tr.Watermark(tp)
		assert.False(t, ok)
	})
}
