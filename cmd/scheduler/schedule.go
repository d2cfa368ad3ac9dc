// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	tradeforge "github.com/tradeforge/core"
	"github.com/tradeforge/core/job"
	"github.com/tradeforge/core/kafka"
	"github.com/tradeforge/core/store/postgres"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
)

//go:embed config.yaml
var defaultConfig []byte

// TasksTopic is the topic the scheduler publishes collection tasks to.
// A market-data collector, out of scope for this module, is expected to
// consume it and perform the actual collection.
const TasksTopic = "market_data.collection.requested"

// tickerCacheKeyPrefix namespaces the Redis ticker cache this command's
// --sync-redis flag refreshes.
const tickerCacheKeyPrefix = "ticker_cache:"

// CollectionTask is the wire shape of one scheduled collection task,
// grounded on the reference scheduler's CollectionTaskMessage.
type CollectionTask struct {
	TaskType string         `json:"task_type"`
	Ticker   string         `json:"ticker"`
	Params   map[string]any `json:"params"`
}

type scheduleOptions struct {
	collectionType string
	timeframes     []string
	syncTickers    bool
	syncRedis      bool
}

func newScheduleCollectionCmd() *cobra.Command {
	var (
		configPath  string
		collectType string
		timeframes  []string
		syncTickers bool
		syncRedis   bool
	)

	cmd := &cobra.Command{
		Use:   "schedule-collection",
		Short: "Publishes one collection task per (ticker, timeframe)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if collectType == "candles" && len(timeframes) == 0 {
				return fmt.Errorf("scheduler: --timeframes is required when --type=candles")
			}

			r, closeConfig, err := openConfig(configPath)
			if err != nil {
				return err
			}
			defer closeConfig()

			opts := scheduleOptions{
				collectionType: collectType,
				timeframes:     timeframes,
				syncTickers:    syncTickers,
				syncRedis:      syncRedis,
			}

			var failed atomic.Bool
			job.Run(r, func(ctx context.Context, cfg job.Config) (*job.App, error) {
				return job.NewApp(job.HandlerFunc(func(ctx context.Context) error {
					count, err := runScheduleCollection(ctx, cfg.Config, opts)
					if err != nil {
						failed.Store(true)
						return err
					}
					slog.InfoContext(ctx, "scheduler tasks published", slog.Int("count", count))
					return nil
				})), nil
			})
			if failed.Load() {
				return fmt.Errorf("scheduler: schedule-collection failed, see logs")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to the built-in configuration)")
	cmd.Flags().StringVar(&collectType, "type", "candles", "the type of data to schedule collection for")
	cmd.Flags().StringSliceVar(&timeframes, "timeframes", nil, "comma-separated timeframes to schedule, required when --type=candles")
	cmd.Flags().BoolVar(&syncTickers, "sync-tickers", false, "synchronize ticker metadata before scheduling")
	cmd.Flags().BoolVar(&syncRedis, "sync-redis", false, "refresh the Redis ticker cache from Postgres before scheduling")

	return cmd
}

func openConfig(path string) (io.Reader, func(), error) {
	if path == "" {
		return bytes.NewReader(defaultConfig), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler: failed to open config file %q: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

// runScheduleCollection runs the actual scheduling workflow: it syncs the
// Redis ticker cache if requested (a requested ticker sync is logged and
// skipped), loads every active ticker, generates one task per (ticker,
// timeframe), and publishes the tasks to TasksTopic one message at a time. It returns the number of tasks
// published.
func runScheduleCollection(ctx context.Context, cfg tradeforge.Config, opts scheduleOptions) (int, error) {
	log := tradeforge.Logger("github.com/tradeforge/core/cmd/scheduler")

	pool, err := postgres.Open(ctx, postgres.Options{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return 0, fmt.Errorf("scheduler: failed to connect to postgres: %w", err)
	}
	defer pool.Close()
	tickers := postgres.NewTickerRepository(pool, 0)

	if opts.syncRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := syncTickerCache(ctx, rdb, tickers); err != nil {
			log.WarnContext(ctx, "scheduler redis sync failed", slog.Any("error", err))
		} else {
			log.InfoContext(ctx, "scheduler redis cache synced")
		}
	}

	if opts.syncTickers {
		// Real ticker-metadata sync requires a market-data provider
		// client (e.g. MOEX), which is out of scope for this module;
		// scheduling proceeds against whatever Postgres already has.
		log.WarnContext(ctx, "scheduler sync-tickers requested but no market-data provider is wired; skipping")
	}

	all, err := tickers.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: failed to load active tickers: %w", err)
	}
	if len(all) == 0 {
		log.WarnContext(ctx, "scheduler found no active tickers")
		return 0, nil
	}

	var tasks []CollectionTask
	switch opts.collectionType {
	case "candles":
		for _, t := range all {
			for _, tf := range opts.timeframes {
				tasks = append(tasks, CollectionTask{
					TaskType: "collect_candles",
					Ticker:   t.Symbol,
					Params:   map[string]any{"timeframe": tf},
				})
			}
		}
	default:
		return 0, fmt.Errorf("scheduler: unsupported collection type %q", opts.collectionType)
	}
	if len(tasks) == 0 {
		log.WarnContext(ctx, "scheduler generated no tasks")
		return 0, nil
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
	if err != nil {
		return 0, fmt.Errorf("scheduler: failed to dial kafka: %w", err)
	}
	producer := kafka.NewProducer(client)
	defer producer.Close()

	for _, task := range tasks {
		payload, err := json.Marshal(task)
		if err != nil {
			return 0, fmt.Errorf("scheduler: failed to encode task for ticker %q: %w", task.Ticker, err)
		}
		key := task.Ticker + ":" + task.TaskType
		headers := []kafka.Header{{Key: kafka.CorrelationIDHeader, Value: []byte(uuid.NewString())}}
		if err := producer.Publish(ctx, TasksTopic, []byte(key), payload, headers); err != nil {
			return 0, fmt.Errorf("scheduler: failed to publish task for ticker %q: %w", task.Ticker, err)
		}
	}

	return len(tasks), nil
}

// syncTickerCache refreshes a Redis-side symbol cache from Postgres, a
// stand-in for the reference RedisStateManager.sync_with_clickhouse
// warm-up (which syncs from ClickHouse rather than Postgres, since this
// module has no ClickHouse ticker table of its own).
func syncTickerCache(ctx context.Context, rdb *redis.Client, tickers *postgres.TickerRepository) error {
	all, err := tickers.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tickers: %w", err)
	}
	for _, t := range all {
		if err := rdb.Set(ctx, tickerCacheKeyPrefix+t.Symbol, t.Exchange, 0).Err(); err != nil {
			return fmt.Errorf("failed to cache ticker %q: %w", t.Symbol, err)
		}
	}
	return nil
}
