// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command indicatorworker consumes indicator calculation requests,
// computes the requested indicators over ClickHouse candle data, and
// publishes a completion message that lets any backtest waiting on the
// round trip resume.
package main

import (
	"bytes"
	"context"
	_ "embed"
	"time"

	"github.com/tradeforge/core/app"
	"github.com/tradeforge/core/indicator"
	"github.com/tradeforge/core/internal/metrics"
	"github.com/tradeforge/core/job"
	"github.com/tradeforge/core/kafka"
	"github.com/tradeforge/core/kafka/decorator"
	"github.com/tradeforge/core/lock"
	"github.com/tradeforge/core/store/clickhouse"

	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
)

//go:embed config.yaml
var defaultConfig []byte

var calcRetry = decorator.RetryOptions{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    10 * time.Second,
}

// runtimeHandler adapts an [app.Runtime] into a [job.Handler].
type runtimeHandler struct {
	rt app.Runtime
}

func (h runtimeHandler) Handle(ctx context.Context) error {
	return h.rt.Run(ctx)
}

func main() {
	job.Run(bytes.NewReader(defaultConfig), func(ctx context.Context, cfg job.Config) (*job.App, error) {
		builder := app.WithHooks(func(ctx context.Context, hooks *app.HookRegistry) (app.RuntimeFunc, error) {
			chPool, err := clickhouse.New(ctx, clickhouse.Options{
				Hosts:    cfg.ClickHouse.Hosts,
				Database: cfg.ClickHouse.Database,
				Username: cfg.ClickHouse.Username,
				Password: cfg.ClickHouse.Password,
				Size:     max(cfg.ClickHouse.PoolSize, 1),
			})
			if err != nil {
				return nil, err
			}
			candles := clickhouse.NewRepository(chPool)

			rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			locks := lock.New(rdb)
			hooks.OnPostRun(func(context.Context) error { return rdb.Close() })

			registry := indicator.NewRegistry()
			// Concrete kernels (EMA, RSI, MACD, SuperTrend, ...) are an
			// out-of-scope collaborator; register them here once available.

			processor := indicator.NewProcessor(candles, registry, locks, nil)

			client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
			if err != nil {
				return nil, err
			}
			producer := kafka.NewProducer(client)
			hooks.OnPostRun(func(context.Context) error { producer.Close(); return nil })
			dlq := kafka.NewDeadLetterPublisher(producer, indicator.CalcRequestTopic+".dlq")

			handler := &calcRequestHandler{
				candles:   candles,
				processor: processor,
				producer:  producer,
			}

			runtime := kafka.NewRuntime(cfg.Kafka.Brokers, cfg.Kafka.GroupID,
				kafka.Consume(indicator.CalcRequestTopic, handler,
					kafka.WithRetry(calcRetry),
					kafka.WithTimeout(time.Minute),
					kafka.WithDLQ(dlq),
					kafka.WithMaxConcurrentMessages(8),
				),
			)

			return app.RuntimeFunc(func(ctx context.Context) error {
				if cfg.Metrics.Port == 0 {
					return runtime.ProcessQueue(ctx)
				}
				metricsSrv, err := metrics.NewServer(cfg.Metrics.Port)
				if err != nil {
					return err
				}
				eg, egCtx := errgroup.WithContext(ctx)
				eg.Go(func() error { return metricsSrv.Run(egCtx) })
				eg.Go(func() error { return runtime.ProcessQueue(egCtx) })
				return eg.Wait()
			}), nil
		})

		rt, err := builder.Build(ctx)
		if err != nil {
			return nil, err
		}
		return job.NewApp(runtimeHandler{rt: rt}), nil
	})
}
