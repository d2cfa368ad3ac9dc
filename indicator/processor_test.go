// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package indicator

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/tradeforge/core/lock"
	"github.com/tradeforge/core/store/clickhouse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	mu        sync.Mutex
	held      map[string]bool
	acquired  []string
	released  []string
	failAfter int
}

func (f *fakeLocker) AcquireWithBlockingWait(_ context.Context, key string, _ lock.AcquireOptions) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.failAfter > 0 && len(f.acquired) >= f.failAfter {
		return false, nil
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	return true, nil
}

func (f *fakeLocker) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	f.released = append(f.released, key)
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	inserted []clickhouse.IndicatorPoint
}

func (f *fakeStore) InsertIndicatorBatch(_ context.Context, points []clickhouse.IndicatorPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, points...)
	return nil
}

func candleSeries(n int, start time.Time) []clickhouse.Candle {
	candles := make([]clickhouse.Candle, n)
	for i := range candles {
		candles[i] = clickhouse.Candle{
			Ticker: "SBER", Timeframe: "1h",
			Begin: start.Add(time.Duration(i) * time.Hour),
			Close: float64(i),
		}
	}
	return candles
}

func flatKernel(lookback int) constantKernel {
	return constantKernel{lookback: lookback, value: 1}
}

type warmupKernel struct {
	lookback int
}

func (k warmupKernel) Lookback() int              { return k.lookback }
func (k warmupKernel) Outputs() map[string]string { return map[string]string{"value": "float64"} }
func (k warmupKernel) Compute(candles []clickhouse.Candle) (map[string][]float64, error) {
	values := make([]float64, len(candles))
	for i := range values {
		if i < k.lookback {
			values[i] = math.NaN()
			continue
		}
		values[i] = float64(i)
	}
	return map[string][]float64{"value": values}, nil
}

func TestProcessor_ProcessRequest(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("acquires and releases the lock around each indicator", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("ema_14", func(map[string]any) (Kernel, error) { return flatKernel(0), nil })

		locker := &fakeLocker{}
		store := &fakeStore{}
		p := NewProcessor(store, reg, locker, nil)

		req := Request{
			Ticker: "SBER", Timeframe: "1h", JobID: "job-1",
			OriginalStartDate: start,
			Descriptors:       []Descriptor{{Name: "ema_14"}},
		}
		result, err := p.ProcessRequest(context.Background(), req, candleSeries(5, start))

		require.NoError(t, err)
		assert.Equal(t, 1, result.Processed)
		assert.Equal(t, []string{"SBER:1h:ema_14"}, locker.acquired)
		assert.Equal(t, []string{"SBER:1h:ema_14"}, locker.released)
		assert.Len(t, store.inserted, 5)
	})

	t.Run("drops candles before the lookback warmup via NaN", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("ema_14", func(map[string]any) (Kernel, error) { return warmupKernel{lookback: 3}, nil })

		locker := &fakeLocker{}
		store := &fakeStore{}
		p := NewProcessor(store, reg, locker, nil)

		req := Request{
			Ticker: "SBER", Timeframe: "1h",
			OriginalStartDate: start,
			Descriptors:       []Descriptor{{Name: "ema_14"}},
		}
		_, err := p.ProcessRequest(context.Background(), req, candleSeries(5, start))

		require.NoError(t, err)
		assert.Len(t, store.inserted, 2)
	})

	t.Run("skips candles before the original start date", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("ema_14", func(map[string]any) (Kernel, error) { return flatKernel(0), nil })

		locker := &fakeLocker{}
		store := &fakeStore{}
		p := NewProcessor(store, reg, locker, nil)

		req := Request{
			Ticker: "SBER", Timeframe: "1h",
			OriginalStartDate: start.Add(2 * time.Hour),
			Descriptors:       []Descriptor{{Name: "ema_14"}},
		}
		_, err := p.ProcessRequest(context.Background(), req, candleSeries(5, start))

		require.NoError(t, err)
		assert.Len(t, store.inserted, 3)
	})

	t.Run("reports no rows when output is empty after filtering", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("ema_14", func(map[string]any) (Kernel, error) { return warmupKernel{lookback: 100}, nil })

		locker := &fakeLocker{}
		store := &fakeStore{}
		p := NewProcessor(store, reg, locker, nil)

		req := Request{
			Ticker: "SBER", Timeframe: "1h",
			OriginalStartDate: start,
			Descriptors:       []Descriptor{{Name: "ema_14"}},
		}
		result, err := p.ProcessRequest(context.Background(), req, candleSeries(5, start))

		require.NoError(t, err)
		assert.Equal(t, 0, result.Processed)
		assert.Equal(t, []string{"ema_14"}, result.Skipped)
		assert.Empty(t, store.inserted)
	})

	t.Run("stops at the first indicator whose lock times out", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("a", func(map[string]any) (Kernel, error) { return flatKernel(0), nil })
		reg.Register("b", func(map[string]any) (Kernel, error) { return flatKernel(0), nil })

		locker := &fakeLocker{failAfter: 1}
		store := &fakeStore{}
		p := NewProcessor(store, reg, locker, nil)

		req := Request{
			Ticker: "SBER", Timeframe: "1h",
			OriginalStartDate: start,
			Descriptors:       []Descriptor{{Name: "a"}, {Name: "b"}},
		}
		_, err := p.ProcessRequest(context.Background(), req, candleSeries(5, start))

		var lockErr LockTimeoutError
		require.ErrorAs(t, err, &lockErr)
		assert.Equal(t, "SBER:1h:b", lockErr.LockKey)
	})

	t.Run("reports unknown kernels without holding the lock past release", func(t *testing.T) {
		reg := NewRegistry()
		locker := &fakeLocker{}
		store := &fakeStore{}
		p := NewProcessor(store, reg, locker, nil)

		req := Request{
			Ticker: "SBER", Timeframe: "1h",
			OriginalStartDate: start,
			Descriptors:       []Descriptor{{Name: "missing"}},
		}
		_, err := p.ProcessRequest(context.Background(), req, candleSeries(5, start))

		require.Error(t, err)
		assert.Equal(t, []string{"SBER:1h:missing"}, locker.released)
	})
}
