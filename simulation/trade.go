// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package simulation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position a trade opened.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Trade is a single completed round trip: an entry and a matching exit,
// with the realized P&L already net of commission.
type Trade struct {
	Side       Side
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   int
	Commission decimal.Decimal
	PnL        decimal.Decimal
	ExitReason string
}

// Metrics aggregates a run's trade log into the summary numbers a
// backtest result is reported with.
type Metrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal
	TotalPnL      decimal.Decimal
	GrossProfit   decimal.Decimal
	GrossLoss     decimal.Decimal
	ProfitFactor  decimal.Decimal
	FinalBalance  decimal.Decimal
	MaxDrawdown   decimal.Decimal
}

// CalculateMetrics derives a Metrics summary from trades in execution
// order, tracking a running balance starting from cfg.InitialBalance to
// compute the maximum peak-to-trough drawdown.
func CalculateMetrics(trades []Trade, cfg Config) Metrics {
	m := Metrics{FinalBalance: cfg.InitialBalance}
	if len(trades) == 0 {
		return m
	}

	balance := cfg.InitialBalance
	peak := balance
	maxDrawdown := decimal.Zero

	for _, t := range trades {
		m.TotalTrades++
		m.TotalPnL = m.TotalPnL.Add(t.PnL)

		switch {
		case t.PnL.IsPositive():
			m.WinningTrades++
			m.GrossProfit = m.GrossProfit.Add(t.PnL)
		case t.PnL.IsNegative():
			m.LosingTrades++
			m.GrossLoss = m.GrossLoss.Add(t.PnL.Abs())
		}

		balance = balance.Add(t.PnL)
		if balance.GreaterThan(peak) {
			peak = balance
		}
		if !peak.IsZero() {
			drawdown := peak.Sub(balance).Div(peak)
			if drawdown.GreaterThan(maxDrawdown) {
				maxDrawdown = drawdown
			}
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).
			Div(decimal.NewFromInt(int64(m.TotalTrades)))
	}
	if !m.GrossLoss.IsZero() {
		m.ProfitFactor = m.GrossProfit.Div(m.GrossLoss)
	}
	m.FinalBalance = balance
	m.MaxDrawdown = maxDrawdown

	return m
}

// AsMap flattens Metrics into the loosely-typed shape a backtest result
// is persisted and serialized as.
func (m Metrics) AsMap() map[string]any {
	return map[string]any{
		"total_trades":   m.TotalTrades,
		"winning_trades": m.WinningTrades,
		"losing_trades":  m.LosingTrades,
		"win_rate":       toFloatOrNil(m.WinRate),
		"total_pnl":      toFloatOrNil(m.TotalPnL),
		"gross_profit":   toFloatOrNil(m.GrossProfit),
		"gross_loss":     toFloatOrNil(m.GrossLoss),
		"profit_factor":  toFloatOrNil(m.ProfitFactor),
		"final_balance":  toFloatOrNil(m.FinalBalance),
		"max_drawdown":   toFloatOrNil(m.MaxDrawdown),
	}
}

// toFloatOrNil sanitizes a decimal into a JSON-safe value, turning a
// non-finite result (e.g. NaN from a degenerate 0/0 division) into nil
// rather than a value encoding/json would refuse to marshal.
func toFloatOrNil(d decimal.Decimal) any {
	f, _ := d.Float64()
	if f != f { // NaN
		return nil
	}
	return f
}
