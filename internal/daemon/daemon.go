// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon assembles the Event Router, Core Observer, metrics
// endpoint and tracing provider into one long-lived process, shared by
// cmd/benchd's standalone entrypoint and benchctl's "serve" subcommand: a
// struct holding every wired component plus a started/mu guard, a New
// that builds them, a Start that runs until the process should stop, and
// a Shutdown that tears them down in reverse order.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runbench/bench/internal/bootstrap"
	"github.com/runbench/bench/internal/config"
	"github.com/runbench/bench/internal/dispatcher"
	"github.com/runbench/bench/internal/metrics"
	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/store"
	"github.com/runbench/bench/internal/store/sqlite"
	"github.com/runbench/bench/internal/tracing"
	"github.com/runbench/bench/internal/wire/auth"
)

// Options carries build-time metadata the daemon reports in logs and
// traces.
type Options struct {
	Version string
}

// Daemon owns every long-lived component of a benchd process.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	backend     store.Store
	metrics     *metrics.Registry
	metricsSrv  *http.Server
	router      *server.Server
	dispatcher  *dispatcher.Dispatcher
	shutdownOTel func(context.Context) error

	mu      sync.Mutex
	started bool
}

// New wires every component against cfg but starts nothing yet.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	shutdownOTel, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: opts.Version,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: tracing init: %w", err)
	}

	backend, err := sqlite.New(ctx, sqlite.Config{Path: cfg.Store.Path, WAL: cfg.Store.WAL})
	if err != nil {
		return nil, fmt.Errorf("daemon: open store: %w", err)
	}

	reg := metrics.New()

	var validator *auth.Validator
	if cfg.Auth.Enabled {
		validator = auth.NewValidator([]byte(cfg.Auth.SharedSecret))
	}

	router := server.New(server.Config{
		Address:      cfg.Listen,
		ServeForever: cfg.ServeForever,
		Logger:       logger,
		Auth:         validator,
	})

	planner := bootstrap.New(backend, logger)
	disp := dispatcher.New(backend, planner, router, logger)

	d := &Daemon{
		cfg:          cfg,
		opts:         opts,
		logger:       logger,
		backend:      backend,
		metrics:      reg,
		router:       router,
		dispatcher:   disp,
		shutdownOTel: shutdownOTel,
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg.Registerer(), promhttp.HandlerOpts{}))
		d.metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	}

	return d, nil
}

// Start runs the Event Router and Core Observer until ctx is canceled or
// the campaign's termination policy fires, whichever comes first.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon: already started")
	}
	d.started = true
	d.mu.Unlock()

	if d.metricsSrv != nil {
		go func() {
			if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Error("metrics listener failed", slog.Any("error", err))
			}
		}()
		d.logger.Info("metrics listening", slog.String("address", d.metricsSrv.Addr))
	}

	go d.refreshStatsLoop(ctx)

	events := d.router.Subscribe(dispatcher.Subscriptions()...)

	errCh := make(chan error, 2)
	go func() { errCh <- d.router.Serve(ctx) }()
	go func() { errCh <- d.dispatcher.Run(ctx, events) }()

	d.logger.Info("benchd ready",
		slog.String("listen", d.cfg.Listen),
		slog.Bool("serveForever", d.cfg.ServeForever))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		d.logger.Info("shutting down")
		return nil
	}
}

// Shutdown stops every component, in reverse order of construction. Safe
// to call even if Start returned because ctx was already canceled.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.router.Shutdown()

	if d.metricsSrv != nil {
		if err := d.metricsSrv.Shutdown(ctx); err != nil {
			d.logger.Warn("metrics server shutdown failed", slog.Any("error", err))
		}
	}

	if d.shutdownOTel != nil {
		if err := d.shutdownOTel(ctx); err != nil {
			d.logger.Warn("tracing shutdown failed", slog.Any("error", err))
		}
	}

	return nil
}

// refreshStatsLoop keeps the Prometheus StatsSummary gauges current while
// the daemon runs.
func (d *Daemon) refreshStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		d.metrics.RefreshStatsSummary(ctx, d.backend, d.logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
