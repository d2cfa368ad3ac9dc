// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package tradeforge

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"os"

	"github.com/tradeforge/core/config"
	otelinit "github.com/tradeforge/core/internal/otel"

	bedrockcfg "github.com/z5labs/bedrock/config"
)

// ConfigSource standardizes the template for configuration of tradeforge applications.
// The [io.Reader] is expected to be YAML with support for Go templating. Currently,
// only 2 template functions are supported:
//   - env - this allows environment variables to be substituted into the YAML
//   - default - define a default value in case the original value is nil
func ConfigSource(r io.Reader) bedrockcfg.Source {
	return bedrockcfg.FromYaml(
		bedrockcfg.RenderTextTemplate(
			r,
			bedrockcfg.TemplateFunc("env", func(key string) any {
				v, ok := os.LookupEnv(key)
				if ok {
					return v
				}
				return nil
			}),
			bedrockcfg.TemplateFunc("default", func(def, v any) any {
				if v == nil {
					return def
				}
				return v
			}),
		),
	)
}

//go:embed default_config.yaml
var defaultConfig []byte

// DefaultConfig returns the default config source which corresponds to the [Config] type.
func DefaultConfig() bedrockcfg.Source {
	return ConfigSource(bytes.NewReader(defaultConfig))
}

// Config defines the common configuration shared by every tradeforge service:
// OpenTelemetry instrumentation plus the connection settings for the data
// plane (Kafka, ClickHouse, Postgres, Redis) that the processing core talks to.
type Config struct {
	OTel       config.OTel      `config:"otel"`
	Kafka      KafkaConfig      `config:"kafka"`
	ClickHouse ClickHouseConfig `config:"clickhouse"`
	Postgres   PostgresConfig   `config:"postgres"`
	Redis      RedisConfig      `config:"redis"`
	Metrics    MetricsConfig    `config:"metrics"`
}

// KafkaConfig describes how to reach the Kafka cluster backing the message
// transport.
type KafkaConfig struct {
	Brokers []string `config:"brokers"`
	GroupID string   `config:"group_id"`
}

// ClickHouseConfig describes how to reach the ClickHouse cluster backing the
// indicator value store.
type ClickHouseConfig struct {
	Hosts       []string `config:"hosts"`
	Database    string   `config:"database"`
	Username    string   `config:"username"`
	Password    string   `config:"password"`
	PoolSize    int      `config:"pool_size"`
}

// PostgresConfig describes how to reach the Postgres instance backing job
// and batch bookkeeping.
type PostgresConfig struct {
	DSN         string `config:"dsn"`
	MaxConns    int32  `config:"max_conns"`
}

// RedisConfig describes how to reach the Redis instance backing the
// distributed lock service.
type RedisConfig struct {
	Addr     string `config:"addr"`
	Password string `config:"password"`
	DB       int    `config:"db"`
}

// MetricsConfig describes the Prometheus scrape endpoint a worker process
// exposes alongside its OTel metric instruments. Port 0 disables it.
type MetricsConfig struct {
	Port uint `config:"port"`
}

// InitializeOTel implements the [appbuilder.OTelInitializer] interface by
// bootstrapping the OpenTelemetry SDK from cfg.OTel.
func (cfg Config) InitializeOTel(ctx context.Context) error {
	return otelinit.Initialize(ctx, cfg.OTel)
}
