// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package clickhouse is the ClickHouse data-plane adapter: a fixed-size
// connection pool plus the repository queries the indicator and backtest
// processing cores read and write through.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradeforge/core"

	chgo "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Options configures a Pool's connections.
type Options struct {
	Hosts    []string
	Database string
	Username string
	Password string
	Size     int
}

// Pool is a fixed-size pool of ClickHouse connections, handed out over a
// buffered channel (the Go equivalent of an asyncio.Queue). Acquire
// health-probes with a ping and transparently recreates dead
// connections; if recreation itself fails the dead handle is returned to
// the pool anyway and the error is surfaced to the caller, matching the
// reference pool's exact "dead but returned to pool" behaviour.
type Pool struct {
	log   *slog.Logger
	opts  Options
	conns chan driver.Conn
	all   []driver.Conn
}

// New creates and fills a Pool of opts.Size connections.
func New(ctx context.Context, opts Options) (*Pool, error) {
	p := &Pool{
		log:   tradeforge.Logger("github.com/tradeforge/core/store/clickhouse"),
		opts:  opts,
		conns: make(chan driver.Conn, opts.Size),
	}

	for i := 0; i < opts.Size; i++ {
		conn, err := p.dial(ctx)
		if err != nil {
			p.closeAll()
			return nil, fmt.Errorf("clickhouse: failed to initialize pool connection %d: %w", i, err)
		}
		p.all = append(p.all, conn)
		p.conns <- conn
	}
	return p, nil
}

func (p *Pool) dial(ctx context.Context) (driver.Conn, error) {
	conn, err := chgo.Open(&chgo.Options{
		Addr: p.opts.Hosts,
		Auth: chgo.Auth{
			Database: p.opts.Database,
			Username: p.opts.Username,
			Password: p.opts.Password,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (p *Pool) healthy(ctx context.Context, conn driver.Conn) bool {
	return conn.Ping(ctx) == nil
}

// Acquire takes a connection out of the pool, blocking until one is
// available. If the connection has lost its backing TCP session it is
// transparently recreated; if recreation also fails, the dead connection
// is returned to the pool anyway (so the pool's size invariant holds) and
// the dial error is returned to the caller.
func (p *Pool) Acquire(ctx context.Context) (driver.Conn, error) {
	var conn driver.Conn
	select {
	case conn = <-p.conns:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if p.healthy(ctx, conn) {
		return conn, nil
	}

	p.log.WarnContext(ctx, "clickhouse connection unhealthy, recreating")
	_ = conn.Close()

	newConn, err := p.dial(ctx)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to recreate clickhouse connection", slog.Any("error", err))
		p.conns <- conn
		return nil, fmt.Errorf("clickhouse: failed to recreate connection: %w", err)
	}

	for i, c := range p.all {
		if c == conn {
			p.all[i] = newConn
			break
		}
	}
	return newConn, nil
}

// Release returns conn to the pool.
func (p *Pool) Release(conn driver.Conn) {
	p.conns <- conn
}

// Close drains the pool, waiting for every outstanding connection to be
// released (up to timeout, logging a warning if the deadline passes) then
// closes every connection.
func (p *Pool) Close(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(p.conns) < len(p.all) {
		if time.Now().After(deadline) {
			p.log.WarnContext(ctx, "clickhouse pool shutdown timed out waiting for connections to return",
				slog.Int("in_pool", len(p.conns)), slog.Int("expected", len(p.all)))
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	p.closeAll()
	return nil
}

func (p *Pool) closeAll() {
	var errs []error
	for _, c := range p.all {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		p.log.Error("errors closing clickhouse connections", slog.Any("errors", errors.Join(errs...)))
	}
}
