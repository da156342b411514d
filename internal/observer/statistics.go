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
	"fmt"
	"log/slog"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/store"
	"github.com/runbench/bench/internal/wire"
)

// RunStatsCollector persists the Bounded Executor's runstats:store events
// : exactly one STORE_RUNSTATS per run, so a duplicate is
// reported rather than silently overwritten.
func RunStatsCollector(st store.StatisticsStore, logger *slog.Logger) *Collector {
	return &Collector{
		Kind:   wire.EventRunStatsStore,
		Logger: logger,
		Handle: func(ctx context.Context, ev server.Event) error {
			payload, ok := ev.Payload.(map[string]wire.Value)
			if !ok {
				return fmt.Errorf("runstats:store payload: expected map, got %T", ev.Payload)
			}
			stat := campaign.RunStatistic{
				Run:     strVal(payload["run_id"]),
				Verdict: campaign.Verdict(strVal(payload["verdict"])),
			}
			if v, ok := payload["cpu_time"].(float64); ok {
				stat.CPUTime = &v
			}
			if v, ok := payload["wall_time"].(float64); ok {
				stat.WallTime = &v
			}
			if v, ok := payload["max_memory"].(int64); ok {
				stat.MaxMemory = &v
			}
			if v, ok := payload["return_code"].(int64); ok {
				code := int(v)
				stat.ReturnCode = &code
			}
			if v, ok := payload["output_size"].(int64); ok {
				stat.OutputSize = v
			}
			return st.SaveRunStatistic(ctx, stat)
		},
	}
}
