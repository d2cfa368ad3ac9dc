// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RegistryEntry is a system indicator's registered metadata: the
// calculation kernel name and the parameters to construct it with.
type RegistryEntry struct {
	Name   string
	Params map[string]any
	IsHot  bool
}

// IndicatorRepository reads the system indicator registry.
type IndicatorRepository struct {
	pool *pgxpool.Pool
}

// NewIndicatorRepository wraps pool for indicator registry reads.
func NewIndicatorRepository(pool *pgxpool.Pool) *IndicatorRepository {
	return &IndicatorRepository{pool: pool}
}

// FullRegistry returns every registered indicator, keyed by indicator_key.
// The trading engine cannot function without this registry, so a query
// failure is always returned rather than silently degraded to an empty map.
func (r *IndicatorRepository) FullRegistry(ctx context.Context) (map[string]RegistryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT indicator_key, name, params, is_hot
		FROM users_indicators
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load indicator registry: %w", err)
	}
	defer rows.Close()

	registry := make(map[string]RegistryEntry)
	for rows.Next() {
		var (
			key, name string
			isHot     bool
			rawParams []byte
		)
		if err := rows.Scan(&key, &name, &rawParams, &isHot); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan indicator registry row: %w", err)
		}

		var params map[string]any
		if len(rawParams) > 0 {
			if err := json.Unmarshal(rawParams, &params); err != nil {
				return nil, fmt.Errorf("postgres: failed to decode params for indicator %q: %w", key, err)
			}
		}

		registry[key] = RegistryEntry{Name: name, Params: params, IsHot: isHot}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating indicator registry: %w", err)
	}
	return registry, nil
}

// KnownBaseKeys returns every registered indicator's base key, satisfying
// strategy.Registry so the Analyser can parse a strategy's full indicator
// keys back into (base key, value key) pairs.
func (r *IndicatorRepository) KnownBaseKeys(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT indicator_key FROM users_indicators`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load indicator base keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan indicator base key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
