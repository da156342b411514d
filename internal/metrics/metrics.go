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

// Package metrics exposes the server's counters and the statistics
// observer's live aggregate (internal/store's StatsSummary) as Prometheus
// collectors: a small struct of pre-registered collectors plus a
// constructor that registers them against a *prometheus.Registry, rather
// than relying on the global default registry.
package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/runbench/bench/internal/store"
)

// Registry holds every collector the server exposes.
type Registry struct {
	reg *prometheus.Registry

	EventsTotal      *prometheus.CounterVec
	WorkersJoined    prometheus.Counter
	WorkersLeft      prometheus.Counter
	RunsCompleted    *prometheus.CounterVec
	RunsSummaryGauge *prometheus.GaugeVec
}

// New constructs a Registry and registers every collector against a fresh
// *prometheus.Registry (not the global default - a long-running server
// and its test suite should never share state).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bench",
			Subsystem: "router",
			Name:      "events_total",
			Help:      "Events received by the router, by kind.",
		}, []string{"kind"}),
		WorkersJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bench",
			Subsystem: "router",
			Name:      "workers_joined_total",
			Help:      "WORKER_JOIN events observed.",
		}),
		WorkersLeft: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bench",
			Subsystem: "router",
			Name:      "workers_left_total",
			Help:      "WORKER_LEAVE events observed.",
		}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bench",
			Subsystem: "dispatcher",
			Name:      "runs_completed_total",
			Help:      "Runs that reached DONE, by tool.",
		}, []string{"tool"}),
		RunsSummaryGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bench",
			Subsystem: "stats",
			Name:      "run_count",
			Help:      "Live run count per (tool, parameter_group, verdict), mirroring store.StatsSummary.",
		}, []string{"tool", "parameter_group", "verdict"}),
	}

	reg.MustRegister(r.EventsTotal, r.WorkersJoined, r.WorkersLeft, r.RunsCompleted, r.RunsSummaryGauge)
	return r
}

// Registerer exposes the underlying registry for an HTTP handler
// (promhttp.HandlerFor) to read from.
func (r *Registry) Registerer() *prometheus.Registry {
	return r.reg
}

// RefreshStatsSummary re-derives RunsSummaryGauge from the store's live
// summary, replacing every label combination's value. Intended to be
// called on each /metrics scrape or on a ticker, not per-event - the
// summary query aggregates the whole run table.
func (r *Registry) RefreshStatsSummary(ctx context.Context, s store.StatisticsStore, logger *slog.Logger) {
	rows, err := s.StatsSummary(ctx)
	if err != nil {
		if logger != nil {
			logger.Error("metrics: refresh stats summary", "error", err)
		}
		return
	}

	r.RunsSummaryGauge.Reset()
	for _, row := range rows {
		r.RunsSummaryGauge.WithLabelValues(row.Tool, row.ParameterGroup, string(row.Verdict)).Set(float64(row.Count))
	}
}

// ObserveRunDone increments RunsCompleted for tool when a run reaches
// campaign.StatusDone.
func (r *Registry) ObserveRunDone(tool string) {
	r.RunsCompleted.WithLabelValues(tool).Inc()
}

// ObserveEvent increments EventsTotal for the given event kind string.
func (r *Registry) ObserveEvent(kind string) {
	r.EventsTotal.WithLabelValues(kind).Inc()
}
