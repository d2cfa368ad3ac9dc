// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package indicator computes and resolves indicator data: the batch
// processor that calculates indicator values for a ticker/timeframe
// window and writes them to ClickHouse, and the resolver a backtest uses
// to check whether the indicators a strategy needs are already there.
package indicator

import (
	"fmt"

	"github.com/tradeforge/core/store/clickhouse"
)

// Descriptor names a single indicator kernel to run, by the same
// name/params shape the registry in Postgres stores.
type Descriptor struct {
	Name   string
	Params map[string]any
}

// Kernel computes one indicator's output columns over a window of
// candles. Concrete kernels (EMA, RSI, MACD, SuperTrend, ...) are an
// out-of-scope collaborator; this package only defines the contract and
// a Registry that resolves a Descriptor to one.
type Kernel interface {
	// Lookback is how many leading candles the kernel needs buffered
	// before its first valid output (e.g. an EMA-50 needs 50).
	Lookback() int
	// Outputs names the value keys this kernel produces, e.g. {"value"}
	// for a single-line indicator or {"macd", "signal", "histogram"}.
	Outputs() map[string]string
	// Compute returns, for each output key, one value per input candle
	// (NaN for candles inside the kernel's lookback warmup).
	Compute(candles []clickhouse.Candle) (map[string][]float64, error)
}

// KernelFactory constructs a Kernel from a Descriptor's params.
type KernelFactory func(params map[string]any) (Kernel, error)

// Registry resolves a Descriptor's Name to the KernelFactory that builds
// it. Unknown names are reported via ErrUnknownKernel rather than
// panicking; Processor fails the request with that error.
type Registry struct {
	factories map[string]KernelFactory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]KernelFactory)}
}

// Register adds a kernel factory under name. Re-registering a name
// overwrites the previous factory.
func (r *Registry) Register(name string, factory KernelFactory) {
	r.factories[name] = factory
}

// ErrUnknownKernel reports a Descriptor naming a kernel the registry has
// no factory for.
type ErrUnknownKernel struct {
	Name string
}

func (e ErrUnknownKernel) Error() string {
	return fmt.Sprintf("indicator: no kernel registered for %q", e.Name)
}

// Build resolves desc to a concrete Kernel.
func (r *Registry) Build(desc Descriptor) (Kernel, error) {
	factory, ok := r.factories[desc.Name]
	if !ok {
		return nil, ErrUnknownKernel{Name: desc.Name}
	}
	return factory(desc.Params)
}
