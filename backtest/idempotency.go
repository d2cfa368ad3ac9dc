// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultIdempotencyTTL is how long an idempotency key stays valid after
// it's first stored, matching the reference's 24-hour Redis TTL.
const DefaultIdempotencyTTL = 24 * time.Hour

// ErrIdempotencyConflict is returned by IdempotencyStore.Check when key
// was already stored against a different request hash: the caller is
// replaying a key it previously used for a materially different batch
// submission.
var ErrIdempotencyConflict = errors.New("backtest: idempotency key reused with a different request")

// IdempotencyStore records the (idempotency_key, request_hash) pair a
// batch submission was created under, so a client that retries the same
// submission gets back the same job rather than a duplicate. It is
// Postgres-backed rather than the reference's Redis store: the key
// already lives alongside the batch it names, and a SQL sweep on
// expires_at needs no separate expiry daemon.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore wraps pool for idempotency-key reads/writes.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Check looks up key. If it has never been seen (or its row has expired),
// hit is false. If it has been seen with the same requestHash, hit is
// true and jobID is the batch ID originally created for it. If it has
// been seen with a different requestHash, it returns
// ErrIdempotencyConflict.
func (s *IdempotencyStore) Check(ctx context.Context, key, requestHash string) (jobID string, hit bool, err error) {
	row := s.pool.QueryRow(ctx, `
		SELECT batch_id, request_hash
		FROM backtest_idempotency_keys
		WHERE idempotency_key = $1 AND expires_at > now()
	`, key)

	var storedHash string
	err = row.Scan(&jobID, &storedHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("backtest: failed to look up idempotency key %q: %w", key, err)
	}

	if storedHash != requestHash {
		return "", false, ErrIdempotencyConflict
	}
	return jobID, true, nil
}

// Store records key as having created jobID under requestHash, valid
// until ttl from now. It's called only after Check reports no hit, so a
// concurrent duplicate store under the same key is resolved by the
// unique constraint on idempotency_key: the first insert wins, and the
// loser's insert is silently skipped (ON CONFLICT DO NOTHING, so Store
// still returns nil); its caller should re-run Check to learn the
// winning job.
func (s *IdempotencyStore) Store(ctx context.Context, key, requestHash, jobID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backtest_idempotency_keys (idempotency_key, request_hash, batch_id, created_at, expires_at)
		VALUES ($1, $2, $3, now(), now() + $4::interval)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, requestHash, jobID, ttl.String())
	if err != nil {
		return fmt.Errorf("backtest: failed to store idempotency key %q: %w", key, err)
	}
	return nil
}

// Sweep deletes every idempotency key that expired before now, bounding
// the table's growth. It's meant to be run periodically (e.g. from a
// scheduled maintenance job), not on the request path.
func (s *IdempotencyStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM backtest_idempotency_keys WHERE expires_at <= now()
	`)
	if err != nil {
		return 0, fmt.Errorf("backtest: failed to sweep expired idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
