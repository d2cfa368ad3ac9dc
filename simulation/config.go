// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package simulation defines the backtest execution contract: the
// configuration a simulation run is parameterized by, the trade log it
// produces, and the Evaluator interface a strategy execution engine
// implements. The engine itself (candle-by-candle strategy evaluation,
// position sizing, order fills) is an out-of-scope collaborator; this
// package only defines what it's given and what it must return.
package simulation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Config parameterizes a single backtest run's accounting: how much
// capital to start with, what fraction of it is lost to commission per
// trade, and how aggressively position size scales with available
// balance.
type Config struct {
	InitialBalance         decimal.Decimal
	CommissionRate         decimal.Decimal
	PositionSizeMultiplier decimal.Decimal
}

// defaultConfig mirrors the reference implementation's fallback values
// when a job's simulation_params omits a field.
func defaultConfig() Config {
	return Config{
		InitialBalance:         decimal.NewFromInt(100_000),
		CommissionRate:         decimal.NewFromFloat(0.0005),
		PositionSizeMultiplier: decimal.NewFromInt(1),
	}
}

// FromSimulationParams builds a Config from a job's loosely-typed
// simulation parameters (as stored in Postgres and unmarshaled from
// JSON), falling back to defaultConfig for any field that's absent.
func FromSimulationParams(params map[string]any) (Config, error) {
	cfg := defaultConfig()

	if v, ok := params["initial_balance"]; ok {
		d, err := toDecimal(v)
		if err != nil {
			return Config{}, fmt.Errorf("simulation: invalid initial_balance: %w", err)
		}
		cfg.InitialBalance = d
	}
	if v, ok := params["commission_rate"]; ok {
		d, err := toDecimal(v)
		if err != nil {
			return Config{}, fmt.Errorf("simulation: invalid commission_rate: %w", err)
		}
		cfg.CommissionRate = d
	}
	if v, ok := params["position_size_multiplier"]; ok {
		d, err := toDecimal(v)
		if err != nil {
			return Config{}, fmt.Errorf("simulation: invalid position_size_multiplier: %w", err)
		}
		cfg.PositionSizeMultiplier = d
	}

	return cfg, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported type %T", v)
	}
}
