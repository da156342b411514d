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

package executor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// sampler polls a process tree at a fixed frequency and tracks the peak
// RSS and accumulated CPU time seen across pid and every descendant
// ( step 3: "polls the process (and descendants, summed) at
// ≥15 Hz"). Safe for concurrent reads from the limiter goroutines that
// poll it.
type sampler struct {
	pid      int32
	interval time.Duration

	mu  sync.Mutex
	mem int64
	cpu float64
}

func newSampler(pid int, interval time.Duration) *sampler {
	return &sampler{pid: int32(pid), interval: interval}
}

// run polls until ctx is done, updating the peak mem/cpu snapshot each
// tick. Intended to be one of the goroutines in the executor's errgroup.
func (s *sampler) run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			mem, cpu, err := sumProcessTree(ctx, s.pid)
			if err != nil {
				// The process may have just exited between our last read
				// and this tick; skip rather than treat as fatal.
				continue
			}
			s.mu.Lock()
			if mem > s.mem {
				s.mem = mem
			}
			if cpu > s.cpu {
				s.cpu = cpu
			}
			s.mu.Unlock()
		}
	}
}

func (s *sampler) snapshot() (memBytes int64, cpuSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem, s.cpu
}

// sumProcessTree reports current RSS and accumulated CPU time (user+system,
// seconds) summed over pid and every descendant; the peak is kept by the
// sampler loop.
func sumProcessTree(ctx context.Context, pid int32) (memBytes int64, cpuSeconds float64, err error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, 0, err
	}
	return sumOne(p)
}

func sumOne(p *process.Process) (int64, float64, error) {
	var mem int64
	var cpu float64

	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		mem += int64(mi.RSS)
	}
	if times, err := p.Times(); err == nil && times != nil {
		cpu += times.User + times.System
	}
	children, err := p.Children()
	if err != nil {
		return mem, cpu, nil
	}
	for _, c := range children {
		cm, cc, _ := sumOne(c)
		mem += cm
		cpu += cc
	}
	return mem, cpu, nil
}
