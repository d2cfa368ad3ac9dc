// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package tradeforge

import (
	"context"
	"log/slog"

	"github.com/z5labs/bedrock"
	bedrockcfg "github.com/z5labs/bedrock/config"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Logger returns a [slog.Logger] which emits records as OTel log records
// under the given instrumentation scope name.
func Logger(name string) *slog.Logger {
	return otelslog.NewLogger(name)
}

// ErrorHandler is notified of any error encountered while building or
// running an application started through a [Runner].
type ErrorHandler interface {
	HandleError(error)
}

// ErrorHandlerFunc is an adapter to allow the use of ordinary functions as
// [ErrorHandler]s.
type ErrorHandlerFunc func(error)

// HandleError implements the [ErrorHandler] interface.
func (f ErrorHandlerFunc) HandleError(err error) {
	f(err)
}

type runnerOptions struct {
	onError ErrorHandler
}

// RunnerOption configures a [Runner].
type RunnerOption interface {
	applyRunnerOption(*runnerOptions)
}

type runnerOptionFunc func(*runnerOptions)

func (f runnerOptionFunc) applyRunnerOption(ro *runnerOptions) {
	f(ro)
}

// OnError registers an [ErrorHandler] that a [Runner] invokes instead of
// panicking whenever building or running the app fails.
func OnError(h ErrorHandler) RunnerOption {
	return runnerOptionFunc(func(ro *runnerOptions) {
		ro.onError = h
	})
}

// Runner builds and runs a [bedrock.App] from one or more config sources,
// routing any error to a configured [ErrorHandler] instead of surfacing it
// as a return value. It is the entrypoint every tradeforge cmd/ binary uses
// to turn a parsed config into a running process.
type Runner struct {
	builder bedrock.AppBuilder[bedrockcfg.Source]
	opts    runnerOptions
}

// NewRunner initializes a [Runner] around an app builder that consumes a
// merged [bedrockcfg.Source], such as one produced by appbuilder.FromConfig.
func NewRunner(builder bedrock.AppBuilder[bedrockcfg.Source], opts ...RunnerOption) *Runner {
	ro := runnerOptions{
		onError: ErrorHandlerFunc(func(error) {}),
	}
	for _, opt := range opts {
		opt.applyRunnerOption(&ro)
	}
	return &Runner{
		builder: builder,
		opts:    ro,
	}
}

// Run merges srcs into a single config source, builds the app, and runs it.
// Any error from either step is handed to the configured [ErrorHandler]
// rather than returned, since by this point there is nothing left upstream
// to recover from other than logging and exiting.
func (r *Runner) Run(ctx context.Context, srcs ...bedrockcfg.Source) {
	src := bedrockcfg.MultiSource(srcs...)

	a, err := r.builder.Build(ctx, src)
	if err != nil {
		r.opts.onError.HandleError(err)
		return
	}

	err = a.Run(ctx)
	if err != nil {
		r.opts.onError.HandleError(err)
	}
}
