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

package cluster

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"golang.org/x/time/rate"
)

// LocalConfig configures the "Local" variant: a fixed-size
// process pool, size = CPU count by default.
type LocalConfig struct {
	// WorkerBinary is the executable invoked for each worker, typically
	// the running benchctl binary (os.Args[0]).
	WorkerBinary string

	ServerAddress string

	// PoolSize bounds concurrent worker processes. Default runtime.NumCPU().
	PoolSize int

	// SpawnRate caps subprocess starts per second, guarding against a
	// fork storm when the pending list is large. Default 4/s.
	SpawnRate float64

	// Stdout and Stderr receive every worker's output, interleaved.
	// Default os.Stdout / os.Stderr.
	Stdout, Stderr io.Writer

	// Progress, if false, suppresses the completion bar (e.g. when the
	// caller redirects output to a log file).
	Progress bool
}

// RunLocal maps runIDs through a pool of PoolSize worker subprocesses, one
// worker per run id (array mode), and reports the first error encountered.
// It blocks until every run has been attempted or ctx is canceled.
func RunLocal(ctx context.Context, cfg LocalConfig, runIDs []string) error {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = runtime.NumCPU()
	}
	if cfg.SpawnRate <= 0 {
		cfg.SpawnRate = 4
	}
	if cfg.WorkerBinary == "" {
		cfg.WorkerBinary = os.Args[0]
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.SpawnRate), 1)
	sem := make(chan struct{}, cfg.PoolSize)

	var bar *progressBar
	if cfg.Progress {
		bar = newProgressBar(len(runIDs))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	recordErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

runloop:
	for _, id := range runIDs {
		if err := limiter.Wait(ctx); err != nil {
			recordErr(err)
			break runloop
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			recordErr(ctx.Err())
			break runloop
		}

		wg.Add(1)
		go func(runID string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := spawnWorker(ctx, cfg, runID)
			if bar != nil {
				bar.done(runID, err)
			}
			if err != nil {
				recordErr(err)
			}
		}(id)
	}

	wg.Wait()
	if bar != nil {
		bar.finish()
	}
	return firstErr
}

func spawnWorker(ctx context.Context, cfg LocalConfig, runID string) error {
	cmd := exec.CommandContext(ctx, cfg.WorkerBinary, workerArgs(cfg.ServerAddress, runID)...)
	cmd.Stdout = cfg.Stdout
	cmd.Stderr = cfg.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cluster: worker for run %s: %w", runID, err)
	}
	return nil
}
