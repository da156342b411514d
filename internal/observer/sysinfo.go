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
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	gopsutilhost "github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/runbench/bench/internal/campaign"
	"github.com/runbench/bench/internal/server"
	"github.com/runbench/bench/internal/store"
	"github.com/runbench/bench/internal/wire"
)

func init() {
	Register("SysInfoCollector", func(string) (Step, error) { return sysInfoCollector{}, nil })
}

// sysInfoCollector gathers the worker host's platform, CPU and memory
// inventory once via gopsutil (no equivalent in the standard library),
// and publishes it so the server links it to the claimed run.
type sysInfoCollector struct{}

func (sysInfoCollector) Execute(ctx context.Context, sc *Context) error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("sysinfo: hostname: %w", err)
	}

	info, err := gopsutilhost.InfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("sysinfo: host info: %w", err)
	}
	cpuInfo, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("sysinfo: cpu info: %w", err)
	}
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("sysinfo: virtual memory: %w", err)
	}
	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("sysinfo: swap memory: %w", err)
	}

	cpuModel := ""
	if len(cpuInfo) > 0 {
		cpuModel = cpuInfo[0].ModelName
	}

	return sc.Emit(wire.EventSysInfoStore, map[string]wire.Value{
		"run_id":       sc.RunID,
		"hostname":     hostname,
		"platform":     info.Platform + " " + info.PlatformVersion,
		"arch":         runtime.GOARCH,
		"cpu_model":    cpuModel,
		"cpu_count":    int64(len(cpuInfo)),
		"memory_bytes": int64(vmem.Total),
		"swap_bytes":   int64(swap.Total),
	})
}

// SysInfoCollectorObserver persists sysinfo:store events
func SysInfoCollectorObserver(st store.DomainStore, logger *slog.Logger) *Collector {
	return &Collector{
		Kind:   wire.EventSysInfoStore,
		Logger: logger,
		Handle: func(ctx context.Context, ev server.Event) error {
			payload, ok := ev.Payload.(map[string]wire.Value)
			if !ok {
				return fmt.Errorf("sysinfo:store payload: expected map, got %T", ev.Payload)
			}
			runID, _ := payload["run_id"].(string)
			node := campaign.Node{
				Hostname: strVal(payload["hostname"]),
				Platform: strVal(payload["platform"]),
				Arch:     strVal(payload["arch"]),
				CPUModel: strVal(payload["cpu_model"]),
			}
			if n, ok := payload["cpu_count"].(int64); ok {
				node.CPUCount = int(n)
			}
			if n, ok := payload["memory_bytes"].(int64); ok {
				node.MemoryBytes = n
			}
			if n, ok := payload["swap_bytes"].(int64); ok {
				node.SwapBytes = n
			}
			return st.EnsureNode(ctx, runID, node)
		},
	}
}

func strVal(v wire.Value) string {
	s, _ := v.(string)
	return s
}
