// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"time"

	"github.com/tradeforge/core/store/clickhouse"
)

// WideTable joins a window's base candles and indicator values into one
// row-per-bar table, column-addressable by OHLCV name or by
// "{base_key}_{value_key}" for an indicator. It implements
// simulation.Table.
type WideTable struct {
	times   []time.Time
	columns map[string][]float64
}

// NewWideTable builds a WideTable from candles (already ordered by
// Begin ascending) and the indicator points covering the same window.
// A candle with no corresponding indicator row for a given column gets
// NaN there, same as the reference implementation's pivoted DataFrame.
func NewWideTable(candles []clickhouse.Candle, points []clickhouse.IndicatorPoint) *WideTable {
	n := len(candles)
	index := make(map[time.Time]int, n)
	times := make([]time.Time, n)

	columns := map[string][]float64{
		"open":   make([]float64, n),
		"high":   make([]float64, n),
		"low":    make([]float64, n),
		"close":  make([]float64, n),
		"volume": make([]float64, n),
	}

	for i, c := range candles {
		times[i] = c.Begin
		index[c.Begin] = i
		columns["open"][i] = c.Open
		columns["high"][i] = c.High
		columns["low"][i] = c.Low
		columns["close"][i] = c.Close
		columns["volume"][i] = c.Volume
	}

	for _, p := range points {
		key := p.IndicatorKey + "_" + p.ValueKey
		col, ok := columns[key]
		if !ok {
			col = nanColumn(n)
			columns[key] = col
		}
		if i, ok := index[p.Begin]; ok {
			col[i] = p.Value
		}
	}

	return &WideTable{times: times, columns: columns}
}

func nanColumn(n int) []float64 {
	col := make([]float64, n)
	nan := nanValue()
	for i := range col {
		col[i] = nan
	}
	return col
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

// Len implements simulation.Table.
func (t *WideTable) Len() int { return len(t.times) }

// Value implements simulation.Table.
func (t *WideTable) Value(index int, column string) (float64, bool) {
	col, ok := t.columns[column]
	if !ok || index < 0 || index >= len(col) {
		return 0, false
	}
	return col[index], true
}

// Time implements simulation.Table.
func (t *WideTable) Time(index int) int64 {
	if index < 0 || index >= len(t.times) {
		return 0
	}
	return t.times[index].UnixNano()
}

// Begin returns the bar's timestamp at index as a time.Time, for
// callers (stages, tests) that need the concrete type rather than the
// interface's UnixNano.
func (t *WideTable) Begin(index int) time.Time {
	return t.times[index]
}
