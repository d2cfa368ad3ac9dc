//go:build testcontainers

// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	testDatabase = "tradeforge"
	testUsername = "tradeforge"
	testPassword = "tradeforge"
)

// setupPostgresContainer starts a Postgres container, applies the
// ticker/indicator-registry schema, and returns a pool dialed against it
// plus a cleanup function.
func setupPostgresContainer(t *testing.T) (pool *pgxpool.Pool, cleanup func()) {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx, "postgres:16-alpine",
		pgmodule.WithDatabase(testDatabase),
		pgmodule.WithUsername(testUsername),
		pgmodule.WithPassword(testPassword),
		pgmodule.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to resolve postgres connection string")

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err = Open(dialCtx, Options{DSN: dsn, MaxConns: 4})
	require.NoError(t, err, "failed to open postgres pool")

	_, err = pool.Exec(ctx, `
		CREATE TABLE tickers (
			symbol   text PRIMARY KEY,
			exchange text NOT NULL,
			name     text NOT NULL,
			lot_size int  NOT NULL
		);
		CREATE TABLE users_indicators (
			indicator_key text PRIMARY KEY,
			name          text NOT NULL,
			params        jsonb,
			is_hot        boolean NOT NULL DEFAULT false
		);
	`)
	require.NoError(t, err, "failed to apply schema")

	cleanup = func() {
		pool.Close()
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	return pool, cleanup
}
