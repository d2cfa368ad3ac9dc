// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command backtestworker consumes backtest job requests and indicator
// completion replies, and runs each job through the six-stage backtest
// pipeline.
package main

import (
	"bytes"
	"context"
	_ "embed"
	"time"

	"github.com/tradeforge/core/app"
	"github.com/tradeforge/core/backtest"
	"github.com/tradeforge/core/indicator"
	"github.com/tradeforge/core/internal/metrics"
	"github.com/tradeforge/core/job"
	"github.com/tradeforge/core/kafka"
	"github.com/tradeforge/core/kafka/decorator"
	"github.com/tradeforge/core/store/clickhouse"
	"github.com/tradeforge/core/store/postgres"
	"github.com/tradeforge/core/strategy"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
)

//go:embed config.yaml
var defaultConfig []byte

var jobRetry = decorator.RetryOptions{
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
			data := clickhouse.NewRepository(chPool)

			pgPool, err := postgres.Open(ctx, postgres.Options{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns})
			if err != nil {
				return nil, err
			}
			hooks.OnPostRun(func(context.Context) error { pgPool.Close(); return nil })

			jobs := postgres.NewJobRepository(pgPool)
			tickers := postgres.NewTickerRepository(pgPool, 5*time.Minute)
			indicators := postgres.NewIndicatorRepository(pgPool)
			analyser := strategy.New(indicators)

			client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
			if err != nil {
				return nil, err
			}
			producer := kafka.NewProducer(client)
			hooks.OnPostRun(func(context.Context) error { producer.Close(); return nil })
			resolver := indicator.NewResolver(data, producer, indicators, nil)

			evaluator := &unimplementedEvaluator{}

			orchestrator := backtest.NewOrchestrator(jobs, tickers, analyser, resolver, data, evaluator, jobs, nil)

			jobRequests := &jobRequestHandler{orchestrator: orchestrator}
			calcReplies := &calcSuccessHandler{orchestrator: orchestrator}

			jobDLQ := kafka.NewDeadLetterPublisher(producer, backtest.JobRequestTopic+".dlq")
			calcDLQ := kafka.NewDeadLetterPublisher(producer, indicator.CalcSuccessTopic+".dlq")

			runtime := kafka.NewRuntime(cfg.Kafka.Brokers, cfg.Kafka.GroupID,
				kafka.Consume(backtest.JobRequestTopic, jobRequests,
					kafka.WithRetry(jobRetry),
					kafka.WithTimeout(5*time.Minute),
					kafka.WithDLQ(jobDLQ),
					kafka.WithMaxConcurrentMessages(4),
				),
				kafka.Consume(indicator.CalcSuccessTopic, calcReplies,
					kafka.WithRetry(jobRetry),
					kafka.WithTimeout(5*time.Minute),
					kafka.WithDLQ(calcDLQ),
					kafka.WithMaxConcurrentMessages(16),
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
