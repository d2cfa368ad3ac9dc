// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticRegistry []string

func (r staticRegistry) KnownBaseKeys(ctx context.Context) ([]string, error) {
	return r, nil
}

func TestAnalyser_ExtractRequiredIndicators(t *testing.T) {
	registry := staticRegistry{"rsi_timeperiod_14", "macd_12_26_9", "supertrend_10_3"}
	analyser := New(registry)

	t.Run("extracts indicators referenced through a comparison", func(t *testing.T) {
		def := Definition{
			EntryBuyConditions: GreaterThanNode{
				Left:  IndicatorValueNode{Key: "rsi_timeperiod_14_value"},
				Right: ValueNode{Value: 30},
			},
		}

		got, err := analyser.ExtractRequiredIndicators(context.Background(), def)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, []RequiredIndicator{{BaseKey: "rsi_timeperiod_14", ValueKey: "value"}}, got)
	})

	t.Run("recurses through AND/OR and crossover nodes", func(t *testing.T) {
		def := Definition{
			EntryBuyConditions: AndNode{
				Conditions: []Node{
					CrossoverUpNode{
						Line1: IndicatorValueNode{Key: "macd_12_26_9_macd"},
						Line2: IndicatorValueNode{Key: "macd_12_26_9_signal"},
					},
					OrNode{
						Conditions: []Node{
							EqualsNode{
								Left:  PrevIndicatorValueNode{Key: "rsi_timeperiod_14_value"},
								Right: ValueNode{Value: 0},
							},
						},
					},
				},
			},
		}

		got, err := analyser.ExtractRequiredIndicators(context.Background(), def)
		if !assert.NoError(t, err) {
			return
		}
		assert.ElementsMatch(t, []RequiredIndicator{
			{BaseKey: "macd_12_26_9", ValueKey: "macd"},
			{BaseKey: "macd_12_26_9", ValueKey: "signal"},
			{BaseKey: "rsi_timeperiod_14", ValueKey: "value"},
		}, got)
	})

	t.Run("extracts both keys from a MACD crossover flip node", func(t *testing.T) {
		def := Definition{
			ExitConditions: MACDCrossoverFlipNode{
				IndicatorKey: "macd_12_26_9_macd",
				SignalKey:    "macd_12_26_9_signal",
			},
		}

		got, err := analyser.ExtractRequiredIndicators(context.Background(), def)
		if !assert.NoError(t, err) {
			return
		}
		assert.ElementsMatch(t, []RequiredIndicator{
			{BaseKey: "macd_12_26_9", ValueKey: "macd"},
			{BaseKey: "macd_12_26_9", ValueKey: "signal"},
		}, got)
	})

	t.Run("skips OHLCV columns referenced directly", func(t *testing.T) {
		def := Definition{
			EntryBuyConditions: GreaterThanNode{
				Left:  IndicatorValueNode{Key: "close"},
				Right: IndicatorValueNode{Key: "rsi_timeperiod_14_value"},
			},
		}

		got, err := analyser.ExtractRequiredIndicators(context.Background(), def)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, []RequiredIndicator{{BaseKey: "rsi_timeperiod_14", ValueKey: "value"}}, got)
	})

	t.Run("drops a full key that matches no base key", func(t *testing.T) {
		def := Definition{
			EntryBuyConditions: IndicatorValueNode{Key: "nonexistent_indicator_value"},
		}

		got, err := analyser.ExtractRequiredIndicators(context.Background(), def)
		if !assert.NoError(t, err) {
			return
		}
		assert.Empty(t, got)
	})

	t.Run("extracts indicator-based stop loss value keys", func(t *testing.T) {
		def := Definition{
			StopLoss: &StopLoss{
				Type:         IndicatorBasedStopLoss,
				BuyValueKey:  "supertrend_10_3_value",
				SellValueKey: "supertrend_10_3_value",
			},
		}

		got, err := analyser.ExtractRequiredIndicators(context.Background(), def)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, []RequiredIndicator{{BaseKey: "supertrend_10_3", ValueKey: "value"}}, got)
	})
}
