// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package indicator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tradeforge/core/kafka"
	"github.com/tradeforge/core/store/clickhouse"
	"github.com/tradeforge/core/store/postgres"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompletenessChecker struct {
	missing []clickhouse.Pair
	err     error
	calls   int
}

func (f *fakeCompletenessChecker) MissingIndicatorPeriods(context.Context, string, string, time.Time, time.Time, []clickhouse.Pair) ([]clickhouse.Pair, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.missing, nil
}

type flakyCompletenessChecker struct {
	failTimes int
	missing   []clickhouse.Pair
	calls     int
}

func (f *flakyCompletenessChecker) MissingIndicatorPeriods(context.Context, string, string, time.Time, time.Time, []clickhouse.Pair) ([]clickhouse.Pair, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return nil, errors.New("connection reset")
	}
	return f.missing, nil
}

type fakeRegistryReader struct {
	entries map[string]postgres.RegistryEntry
}

func (f *fakeRegistryReader) FullRegistry(context.Context) (map[string]postgres.RegistryEntry, error) {
	return f.entries, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []kafka.Message
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key, value []byte, headers []kafka.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, kafka.Message{Topic: topic, Key: key, Value: value, Headers: headers})
	return nil
}

func TestResolver_EnsureAvailable(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	required := []clickhouse.Pair{{BaseKey: "ema_14", ValueKey: "value"}}

	t.Run("reports ready when nothing is missing", func(t *testing.T) {
		checker := &fakeCompletenessChecker{}
		registry := &fakeRegistryReader{}
		pub := &fakePublisher{}
		r := NewResolver(checker, pub, registry, nil)

		ready, err := r.EnsureAvailable(ctx, "job-1", "corr-1", "SBER", "1h", start, end, required)

		require.NoError(t, err)
		assert.True(t, ready)
		assert.Empty(t, pub.published)
	})

	t.Run("publishes a calculation request and reports not ready when data is missing", func(t *testing.T) {
		checker := &fakeCompletenessChecker{missing: required}
		registry := &fakeRegistryReader{entries: map[string]postgres.RegistryEntry{
			"ema_14": {Name: "ema", Params: map[string]any{"period": float64(14)}},
		}}
		pub := &fakePublisher{}
		r := NewResolver(checker, pub, registry, nil)

		ready, err := r.EnsureAvailable(ctx, "job-1", "corr-1", "SBER", "1h", start, end, required)

		require.NoError(t, err)
		assert.False(t, ready)
		require.Len(t, pub.published, 1)

		msg := pub.published[0]
		assert.Equal(t, CalcRequestTopic, msg.Topic)

		var corrHeader string
		for _, h := range msg.Headers {
			if h.Key == kafka.CorrelationIDHeader {
				corrHeader = string(h.Value)
			}
		}
		assert.Equal(t, "corr-1", corrHeader)

		var req CalcRequest
		require.NoError(t, json.Unmarshal(msg.Value, &req))
		assert.Equal(t, "SBER", req.Ticker)
		require.Len(t, req.Indicators, 1)
		assert.Equal(t, "ema", req.Indicators[0].Name)
	})

	t.Run("skips missing indicators absent from the registry", func(t *testing.T) {
		checker := &fakeCompletenessChecker{missing: required}
		registry := &fakeRegistryReader{entries: map[string]postgres.RegistryEntry{}}
		pub := &fakePublisher{}
		r := NewResolver(checker, pub, registry, nil)

		ready, err := r.EnsureAvailable(ctx, "job-1", "corr-1", "SBER", "1h", start, end, required)

		require.NoError(t, err)
		assert.False(t, ready)
		require.Len(t, pub.published, 1)

		var req CalcRequest
		require.NoError(t, json.Unmarshal(pub.published[0].Value, &req))
		assert.Empty(t, req.Indicators)
	})

	t.Run("retries a transient completeness check failure", func(t *testing.T) {
		checker := &flakyCompletenessChecker{failTimes: 2}
		registry := &fakeRegistryReader{}
		pub := &fakePublisher{}
		r := NewResolver(checker, pub, registry, nil)

		ready, err := r.EnsureAvailable(ctx, "job-1", "corr-1", "SBER", "1h", start, end, required)

		require.NoError(t, err)
		assert.True(t, ready)
		assert.Equal(t, 3, checker.calls)
	})

	t.Run("falls back to the job ID when no correlation ID is supplied", func(t *testing.T) {
		checker := &fakeCompletenessChecker{missing: required}
		registry := &fakeRegistryReader{entries: map[string]postgres.RegistryEntry{
			"ema_14": {Name: "ema"},
		}}
		pub := &fakePublisher{}
		r := NewResolver(checker, pub, registry, nil)

		_, err := r.EnsureAvailable(ctx, "job-1", "", "SBER", "1h", start, end, required)

		require.NoError(t, err)
		require.Len(t, pub.published, 1)

		var corrHeader string
		for _, h := range pub.published[0].Headers {
			if h.Key == kafka.CorrelationIDHeader {
				corrHeader = string(h.Value)
			}
		}
		assert.Equal(t, "job-1", corrHeader)
	})
}
