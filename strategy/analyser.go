// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package strategy

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// OHLCVColumns names the raw candle columns a strategy may reference
// directly instead of through an indicator; the Analyser skips these rather
// than trying to resolve them against the indicator registry.
var OHLCVColumns = map[string]struct{}{
	"open":      {},
	"high":      {},
	"low":       {},
	"close":     {},
	"volume":    {},
	"timestamp": {},
}

// RequiredIndicator names one (base_key, value_key) pair a strategy needs
// loaded before it can run.
type RequiredIndicator struct {
	BaseKey  string
	ValueKey string
}

// Registry resolves the known indicator base keys a strategy's full keys can
// be parsed against. It is satisfied by store/postgres's
// IndicatorRepository.
type Registry interface {
	KnownBaseKeys(ctx context.Context) ([]string, error)
}

// Analyser walks a strategy's condition tree and determines every indicator
// it needs loaded before it can evaluate.
type Analyser struct {
	registry Registry
}

// New initializes an [Analyser] around a [Registry] of known indicator base
// keys.
func New(registry Registry) *Analyser {
	return &Analyser{registry: registry}
}

// ExtractRequiredIndicators returns the sorted, de-duplicated set of
// indicators strategy references, expressed as (base_key, value_key) pairs.
func (a *Analyser) ExtractRequiredIndicators(ctx context.Context, strategy Definition) ([]RequiredIndicator, error) {
	fullKeys := extractFullKeys(strategy)

	baseKeys, err := a.registry.KnownBaseKeys(ctx)
	if err != nil {
		return nil, err
	}

	required := parseFullKeys(fullKeys, baseKeys)

	sort.Slice(required, func(i, j int) bool {
		if required[i].BaseKey != required[j].BaseKey {
			return required[i].BaseKey < required[j].BaseKey
		}
		return required[i].ValueKey < required[j].ValueKey
	})
	return required, nil
}

// extractFullKeys recursively walks every condition section of strategy and
// collects the full indicator keys referenced anywhere in the tree.
func extractFullKeys(strategy Definition) map[string]struct{} {
	fullKeys := make(map[string]struct{})

	var walk func(Node)
	walk = func(node Node) {
		if node == nil {
			return
		}

		switch n := node.(type) {
		case IndicatorValueNode:
			fullKeys[n.Key] = struct{}{}
		case PrevIndicatorValueNode:
			fullKeys[n.Key] = struct{}{}
		case AndNode:
			for _, cond := range n.Conditions {
				walk(cond)
			}
		case OrNode:
			for _, cond := range n.Conditions {
				walk(cond)
			}
		case GreaterThanNode:
			walk(n.Left)
			walk(n.Right)
		case LessThanNode:
			walk(n.Left)
			walk(n.Right)
		case EqualsNode:
			walk(n.Left)
			walk(n.Right)
		case CrossoverUpNode:
			walk(n.Line1)
			walk(n.Line2)
		case CrossoverDownNode:
			walk(n.Line1)
			walk(n.Line2)
		case SuperTrendFlipNode:
			if n.IndicatorKey != "" {
				fullKeys[n.IndicatorKey] = struct{}{}
			}
		case MACDCrossoverFlipNode:
			if n.IndicatorKey != "" {
				fullKeys[n.IndicatorKey] = struct{}{}
			}
			if n.SignalKey != "" {
				fullKeys[n.SignalKey] = struct{}{}
			}
		}
	}

	walk(strategy.EntryBuyConditions)
	walk(strategy.EntrySellConditions)
	walk(strategy.ExitConditions)
	walk(strategy.ExitLongConditions)
	walk(strategy.ExitShortConditions)

	if sl := strategy.StopLoss; sl != nil && sl.Type == IndicatorBasedStopLoss {
		if sl.BuyValueKey != "" {
			fullKeys[sl.BuyValueKey] = struct{}{}
		}
		if sl.SellValueKey != "" {
			fullKeys[sl.SellValueKey] = struct{}{}
		}
	}

	return fullKeys
}

// parseFullKeys matches each full key against the known base keys by
// longest suffix, e.g. "rsi_timeperiod_14_value" against base key
// "rsi_timeperiod_14" yields value key "value". OHLCV columns are skipped
// silently; a full key that matches no base key is logged and dropped
// rather than failing the whole analysis, since one malformed condition
// shouldn't block loading the indicators the rest of the strategy needs.
func parseFullKeys(fullKeys map[string]struct{}, knownBaseKeys []string) []RequiredIndicator {
	log := logger()
	required := make(map[RequiredIndicator]struct{})

	for fullKey := range fullKeys {
		if _, ok := OHLCVColumns[fullKey]; ok {
			continue
		}

		best := ""
		for _, baseKey := range knownBaseKeys {
			if len(baseKey) > len(best) && strings.HasPrefix(fullKey, baseKey+"_") {
				best = baseKey
			}
		}

		parsed := best != ""
		if parsed {
			required[RequiredIndicator{
				BaseKey:  best,
				ValueKey: fullKey[len(best)+1:],
			}] = struct{}{}
		}

		if !parsed {
			log.Warn("full key did not match any known indicator base key",
				slog.String("full_key", fullKey))
		}
	}

	out := make([]RequiredIndicator, 0, len(required))
	for ri := range required {
		out = append(out, ri)
	}
	return out
}
