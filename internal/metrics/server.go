// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package metrics exposes a Prometheus scrape endpoint for worker
// processes, alongside the OTel metric instruments the rest of the
// module records to (kafka.metricsRecorder and friends). Both read from
// the same counters conceptually; this package just gives operators who
// scrape Prometheus directly a `/metrics` endpoint without needing an
// OTel collector in front of them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/tradeforge/core/noop"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Server serves the default Prometheus registry's collectors over HTTP.
type Server struct {
	ls     net.Listener
	server *http.Server
}

// NewServer binds to port for later serving. A port of 0 means "let the
// OS pick" which is only useful in tests; production configs should set
// an explicit port.
func NewServer(port uint) (*Server, error) {
	ls, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics: failed to listen on port %d: %w", port, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		ls: ls,
		server: &http.Server{
			Handler:  mux,
			ErrorLog: slog.NewLogLogger(noop.LogHandler{}, slog.LevelError),
		},
	}, nil
}

// Addr returns the address the server is listening on, useful when port 0
// was requested and the OS assigned one.
func (s *Server) Addr() net.Addr {
	return s.ls.Addr()
}

// Run serves /metrics until ctx is cancelled, then shuts down gracefully.
// Implements the same run-until-cancelled shape as [kafka.Runtime.ProcessQueue]
// so it composes into a worker's handler via an errgroup.
func (s *Server) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.server.Serve(s.ls)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		return s.server.Shutdown(context.Background())
	})

	err := eg.Wait()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
