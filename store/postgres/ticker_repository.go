// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeforge/core/concurrent"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Ticker is a tradeable instrument's static metadata.
type Ticker struct {
	Symbol   string
	Exchange string
	Name     string
	LotSize  int
}

type tickerCacheEntry struct {
	ticker    Ticker
	expiresAt time.Time
}

// TickerRepository reads ticker metadata, caching lookups in memory for
// TTL so the scheduler CLI's per-(ticker,timeframe) task generation
// doesn't round-trip to Postgres for every ticker on every run.
type TickerRepository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	// adapted from concurrent.Cache[K,V]: a bare map cache has no
	// expiry, so entries carry their own expiresAt and are revalidated
	// on read rather than proactively evicted.
	cache *concurrent.Cache[string, tickerCacheEntry]
}

// NewTickerRepository wraps pool for ticker metadata reads, caching each
// lookup for ttl.
func NewTickerRepository(pool *pgxpool.Pool, ttl time.Duration) *TickerRepository {
	return &TickerRepository{
		pool:  pool,
		ttl:   ttl,
		cache: concurrent.NewCache[string, tickerCacheEntry](),
	}
}

// Get returns a ticker's metadata, served from cache when still fresh.
func (r *TickerRepository) Get(ctx context.Context, symbol string) (Ticker, error) {
	entry, err := r.cache.GetOr(symbol, func() (tickerCacheEntry, error) {
		return r.load(ctx, symbol)
	})
	if err != nil {
		return Ticker{}, err
	}

	if time.Now().Before(entry.expiresAt) {
		return entry.ticker, nil
	}

	entry, err = r.load(ctx, symbol)
	if err != nil {
		return Ticker{}, err
	}
	return entry.ticker, nil
}

func (r *TickerRepository) load(ctx context.Context, symbol string) (tickerCacheEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT symbol, exchange, name, lot_size
		FROM tickers
		WHERE symbol = $1
	`, symbol)

	var t Ticker
	if err := row.Scan(&t.Symbol, &t.Exchange, &t.Name, &t.LotSize); err != nil {
		return tickerCacheEntry{}, fmt.Errorf("postgres: failed to load ticker %q: %w", symbol, err)
	}
	return tickerCacheEntry{ticker: t, expiresAt: time.Now().Add(r.ttl)}, nil
}

// All returns every known ticker, uncached.
func (r *TickerRepository) All(ctx context.Context) ([]Ticker, error) {
	rows, err := r.pool.Query(ctx, `SELECT symbol, exchange, name, lot_size FROM tickers`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list tickers: %w", err)
	}
	defer rows.Close()

	var tickers []Ticker
	for rows.Next() {
		var t Ticker
		if err := rows.Scan(&t.Symbol, &t.Exchange, &t.Name, &t.LotSize); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan ticker row: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}
