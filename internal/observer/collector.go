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

package observer

import (
	"context"
	"log/slog"

	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/wire"
)

// Collector drains one event kind from the router's backend bus and
// persists it through handle. Every domain observer (SAT verdict, sudoku
// verdict, sysinfo, run statistics) is one Collector over a different
// event kind and store write, without per-observer dynamic subscription
// bookkeeping.
type Collector struct {
	Kind   wire.EventKind
	Logger *slog.Logger
	Handle func(ctx context.Context, ev server.Event) error
}

// Run drains events until the channel closes or ctx is canceled,
// logging (not failing) any handler error: one bad event must not stop
// the collector from processing the rest of the campaign.
func (c *Collector) Run(ctx context.Context, events <-chan server.Event) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.Handle(ctx, ev); err != nil {
				logger.Error("observer collector failed", "kind", c.Kind, "client", ev.ClientID, "error", err)
			}
		}
	}
}
