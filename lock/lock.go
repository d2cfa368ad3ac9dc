// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package lock implements a distributed, TTL-based mutual exclusion lock on
// top of Redis. It exists to keep at most one worker computing a given
// (ticker, timeframe, indicator) batch at a time, even when several
// indicator-worker processes consume the same Kafka topic concurrently.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "batch_lock:"

// ErrAcquireTimeout describes a lock that could not be acquired before the
// wait budget was exhausted. [Service.AcquireWithBlockingWait] does not
// return it: it reports a timeout as (false, nil).
var ErrAcquireTimeout = errors.New("lock: timed out waiting to acquire")

// Service is a Redis-backed distributed lock service using SET NX EX for
// atomic acquisition. Acquisition is best-effort on release: the release
// path issues a plain DEL rather than a compare-and-delete Lua script, so a
// lock can in principle be released by a holder other than the one that set
// it. This matches the source behaviour and is acceptable here because the
// lock's TTL already bounds the blast radius of a stolen release.
type Service struct {
	rdb            *redis.Client
	defaultTimeout time.Duration
	log            func(string, ...any)
}

// Option configures a [Service].
type Option func(*Service)

// WithDefaultTimeout overrides the default lock TTL used when callers don't
// specify one explicitly.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.defaultTimeout = d
	}
}

// New initializes a [Service] around an existing Redis client.
func New(rdb *redis.Client, opts ...Option) *Service {
	s := &Service{
		rdb:            rdb,
		defaultTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	return s.rdb.Close()
}

// TaskKey deterministically names a batch task from its identifying
// parameters. Two tasks with the same ticker, timeframe, date range and set
// of requested indicators collapse to the same key regardless of the order
// the indicator keys were supplied in.
func TaskKey(ticker, timeframe, startDate, endDate string, indicatorKeys []string) string {
	sorted := append([]string(nil), indicatorKeys...)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	hash := hex.EncodeToString(sum[:])[:16]

	return fmt.Sprintf("%s:%s:%s:%s:%s", ticker, timeframe, startDate, endDate, hash)
}

// IndicatorLockKey names the lock guarding computation of a single indicator
// for a (ticker, timeframe). Deliberately omits the date range: overlapping
// backfills for the same indicator must serialize against one another, not
// just exact-range duplicates.
func IndicatorLockKey(ticker, timeframe, indicatorKey string) string {
	return fmt.Sprintf("%s:%s:%s", ticker, timeframe, indicatorKey)
}

// IsLocked reports whether key currently has a lock held against it.
func (s *Service) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Info describes the current state of a held lock.
type Info struct {
	Key   string
	TTL   time.Duration
	Value string
}

// GetInfo returns the current state of the lock held against key, or nil if
// it isn't held.
func (s *Service) GetInfo(ctx context.Context, key string) (*Info, error) {
	redisKey := keyPrefix + key

	n, err := s.rdb.Exists(ctx, redisKey).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	ttl, err := s.rdb.TTL(ctx, redisKey).Result()
	if err != nil {
		return nil, err
	}
	value, err := s.rdb.Get(ctx, redisKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	return &Info{Key: key, TTL: ttl, Value: value}, nil
}

// AcquireOptions customizes a single [Service.AcquireWithBlockingWait] call.
type AcquireOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	TTL          time.Duration
}

// AcquireWithBlockingWait tries to acquire the lock for key, blocking and
// retrying at PollInterval until either it succeeds or Timeout elapses. The
// lock is set to expire after TTL regardless of whether the holder releases
// it, which bounds the damage from a holder that crashes mid-critical-section.
func (s *Service) AcquireWithBlockingWait(ctx context.Context, key string, opts AcquireOptions) (bool, error) {
	if opts.TTL <= 0 {
		opts.TTL = s.defaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.defaultTimeout
	}

	redisKey := keyPrefix + key
	lockValue := strconv.Itoa(os.Getpid()) + ":" + strconv.FormatInt(time.Now().UnixNano(), 10)

	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		ok, err := s.rdb.SetNX(ctx, redisKey, lockValue, opts.TTL).Result()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release best-effort releases the lock held against key. Errors are
// swallowed by callers expected to run this in a deferred cleanup; Release
// itself still reports them so callers that care can log or propagate.
func (s *Service) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, keyPrefix+key).Err()
}
