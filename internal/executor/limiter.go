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
	"errors"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// errLimitTripped is returned by a tripped limiter goroutine so the
// errgroup's derived context cancels the other two.
var errLimitTripped = errors.New("executor: limit tripped")

// tripFlag records which limiter fired first (write-once), read once the
// errgroup has fully drained.
type tripFlag struct {
	mu  sync.Mutex
	val string
}

func (t *tripFlag) set(v string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.val == "" {
		t.val = v
	}
}

func (t *tripFlag) get() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.val
}

// runLimiters starts the sampler plus the three concurrent limiters
// (WallTimeLimiter, CpuTimeLimiter, MaxMemoryLimiter) in an
// errgroup.Group, terminating pgid's whole process group the instant any
// one trips. It returns once every goroutine has exited, either because
// doneCh closed (the child exited naturally) or because a limiter fired.
func runLimiters(ctx context.Context, s *sampler, wallCeiling time.Duration, cpuLimit float64, memLimit int64, pgid int, killGrace time.Duration, doneCh <-chan struct{}) *tripFlag {
	flag := &tripFlag{}
	g, gctx := errgroup.WithContext(ctx)
	trip := func(name string) error {
		flag.set(name)
		terminateGroup(pgid, killGrace)
		return errLimitTripped
	}

	// sampler.run only watches its own context, so give it one that's
	// also cancelled when the child exits naturally (doneCh), not just
	// when a limiter trips (gctx).
	samplerCtx, cancelSampler := context.WithCancel(gctx)
	defer cancelSampler()
	go func() {
		select {
		case <-doneCh:
			cancelSampler()
		case <-gctx.Done():
		}
	}()
	g.Go(func() error { return s.run(samplerCtx) })

	g.Go(func() error { // WallTimeLimiter
		timer := time.NewTimer(wallCeiling)
		defer timer.Stop()
		select {
		case <-timer.C:
			return trip("TLE")
		case <-gctx.Done():
			return nil
		case <-doneCh:
			return nil
		}
	})

	g.Go(func() error { // CpuTimeLimiter
		if cpuLimit <= 0 {
			return nil
		}
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, cpu := s.snapshot(); cpu >= cpuLimit {
					return trip("TLE")
				}
			case <-gctx.Done():
				return nil
			case <-doneCh:
				return nil
			}
		}
	})

	g.Go(func() error { // MaxMemoryLimiter
		if memLimit <= 0 {
			return nil
		}
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if mem, _ := s.snapshot(); mem >= memLimit {
					return trip("MEM")
				}
			case <-gctx.Done():
				return nil
			case <-doneCh:
				return nil
			}
		}
	})

	_ = g.Wait()
	return flag
}

// terminateGroup signals the process group SIGTERM, escalating to
// SIGKILL after grace if it hasn't died. The
// SIGKILL fires from a detached goroutine so the tripped limiter can
// return immediately.
func terminateGroup(pgid int, grace time.Duration) {
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	go func() {
		time.Sleep(grace)
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}()
}
