// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package strategy defines the condition-tree AST a backtest strategy is
// expressed in, and an Analyser that walks it to discover every indicator
// the strategy references before a backtest can run.
package strategy

// NodeType tags the concrete shape of a [Node].
type NodeType string

const (
	IndicatorValue     NodeType = "INDICATOR_VALUE"
	PrevIndicatorValue NodeType = "PREV_INDICATOR_VALUE"
	Value              NodeType = "VALUE"
	And                NodeType = "AND"
	Or                 NodeType = "OR"
	GreaterThan        NodeType = "GREATER_THAN"
	LessThan           NodeType = "LESS_THAN"
	Equals             NodeType = "EQUALS"
	CrossoverUp        NodeType = "CROSSOVER_UP"
	CrossoverDown      NodeType = "CROSSOVER_DOWN"
	SuperTrendFlip     NodeType = "SUPER_TREND_FLIP"
	MACDCrossoverFlip  NodeType = "MACD_CROSSOVER_FLIP"
)

// Node is a single element of a strategy's condition tree. Every concrete
// node type below implements it; NodeType reports which fields are meaningful.
type Node interface {
	NodeType() NodeType
}

// IndicatorValueNode references the current-bar value of an indicator
// identified by its full key (base_key + "_" + value_key).
type IndicatorValueNode struct {
	Key string
}

func (IndicatorValueNode) NodeType() NodeType { return IndicatorValue }

// PrevIndicatorValueNode references the prior-bar value of an indicator.
type PrevIndicatorValueNode struct {
	Key string
}

func (PrevIndicatorValueNode) NodeType() NodeType { return PrevIndicatorValue }

// ValueNode is a literal scalar used as an operand in a comparison.
type ValueNode struct {
	Value float64
}

func (ValueNode) NodeType() NodeType { return Value }

// AndNode is true only if every condition in Conditions is true.
type AndNode struct {
	Conditions []Node
}

func (AndNode) NodeType() NodeType { return And }

// OrNode is true if any condition in Conditions is true.
type OrNode struct {
	Conditions []Node
}

func (OrNode) NodeType() NodeType { return Or }

// GreaterThanNode compares Left > Right.
type GreaterThanNode struct {
	Left, Right Node
}

func (GreaterThanNode) NodeType() NodeType { return GreaterThan }

// LessThanNode compares Left < Right.
type LessThanNode struct {
	Left, Right Node
}

func (LessThanNode) NodeType() NodeType { return LessThan }

// EqualsNode compares Left == Right.
type EqualsNode struct {
	Left, Right Node
}

func (EqualsNode) NodeType() NodeType { return Equals }

// CrossoverUpNode is true on the bar Line1 crosses above Line2.
type CrossoverUpNode struct {
	Line1, Line2 Node
}

func (CrossoverUpNode) NodeType() NodeType { return CrossoverUp }

// CrossoverDownNode is true on the bar Line1 crosses below Line2.
type CrossoverDownNode struct {
	Line1, Line2 Node
}

func (CrossoverDownNode) NodeType() NodeType { return CrossoverDown }

// SuperTrendFlipNode is true on the bar a SuperTrend indicator flips
// direction.
type SuperTrendFlipNode struct {
	IndicatorKey string
}

func (SuperTrendFlipNode) NodeType() NodeType { return SuperTrendFlip }

// MACDCrossoverFlipNode is true on the bar a MACD line crosses its signal
// line.
type MACDCrossoverFlipNode struct {
	IndicatorKey string
	SignalKey    string
}

func (MACDCrossoverFlipNode) NodeType() NodeType { return MACDCrossoverFlip }

// StopLossType distinguishes stop-loss configurations.
type StopLossType string

// IndicatorBasedStopLoss is the only StopLossType whose value keys the
// Analyser needs to extract; other stop-loss types (fixed percent, ATR
// multiple) don't reference indicator values directly by key.
const IndicatorBasedStopLoss StopLossType = "INDICATOR_BASED"

// StopLoss configures how a backtest exits a losing position.
type StopLoss struct {
	Type         StopLossType
	BuyValueKey  string
	SellValueKey string
}

// Definition is the full condition tree driving one backtest strategy.
type Definition struct {
	EntryBuyConditions  Node
	EntrySellConditions Node
	ExitConditions      Node
	ExitLongConditions  Node
	ExitShortConditions Node
	StopLoss            *StopLoss
}
