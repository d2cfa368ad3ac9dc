//go:build testcontainers

// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	chmodule "github.com/testcontainers/testcontainers-go/modules/clickhouse"
)

const (
	testDatabase = "tradeforge"
	testUsername = "tradeforge"
	testPassword = "tradeforge"
)

// setupClickHouseContainer starts a ClickHouse container, creates the
// candles_base and candles_indicators tables, and returns a Pool dialed
// against it plus a cleanup function.
func setupClickHouseContainer(t *testing.T) (pool *Pool, cleanup func()) {
	t.Helper()

	ctx := context.Background()

	container, err := chmodule.Run(ctx, "clickhouse/clickhouse-server:24.3",
		chmodule.WithUsername(testUsername),
		chmodule.WithPassword(testPassword),
		chmodule.WithDatabase(testDatabase),
	)
	require.NoError(t, err, "failed to start clickhouse container")

	host, err := container.ConnectionHost(ctx)
	require.NoError(t, err, "failed to resolve clickhouse connection host")

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err = New(dialCtx, Options{
		Hosts:    []string{host},
		Database: testDatabase,
		Username: testUsername,
		Password: testPassword,
		Size:     2,
	})
	require.NoError(t, err, "failed to create clickhouse pool")

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err, "failed to acquire clickhouse connection for schema setup")

	require.NoError(t, conn.Exec(ctx, `
		CREATE TABLE candles_base (
			ticker String,
			timeframe String,
			begin DateTime,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64
		) ENGINE = MergeTree ORDER BY (ticker, timeframe, begin)
	`), "failed to create candles_base table")

	require.NoError(t, conn.Exec(ctx, `
		CREATE TABLE candles_indicators (
			ticker String,
			timeframe String,
			begin DateTime,
			indicator_key String,
			value_key String,
			value Float64,
			version Int64
		) ENGINE = ReplacingMergeTree(version) ORDER BY (ticker, timeframe, begin, indicator_key, value_key)
	`), "failed to create candles_indicators table")

	pool.Release(conn)

	cleanup = func() {
		_ = pool.Close(context.Background(), 5*time.Second)
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate clickhouse container: %v", err)
		}
	}
	return pool, cleanup
}
