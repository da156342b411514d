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

// Package executor implements the bounded run executor: it
// registers itself as a run-category Step that spawns the run's tool
// command line in its own process group, samples the process tree's peak
// RSS and accumulated CPU time at a fixed frequency, enforces wall/CPU/
// memory ceilings concurrently, and publishes exactly one runstats:store
// event.
//
// It spawns the process group via syscall.SysProcAttr, subscribes three
// named limiters to a polling monitor, and publishes one runstats:store
// event on exit. The three limiters run
// concurrently via golang.org/x/sync/errgroup (limiter.go); the
// process-tree sampler (sampler.go) uses
// github.com/shirou/gopsutil/v4/process, since no psutil equivalent
// exists in the standard library.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/runbench/bench/internal/observer"
	"github.com/runbench/bench/internal/tooladapter"
	"github.com/runbench/bench/internal/wire"
)

// moduleID is the step id a run's step list references to invoke the
// Bounded Executor
const moduleID = "BoundedExecutor"

func init() {
	observer.Register(moduleID, func(raw string) (observer.Step, error) {
		cfg := config{WallGrace: 15 * time.Second, NonzeroRTE: true, SampleHz: 15, KillGrace: 3 * time.Second}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				return nil, fmt.Errorf("%s config: %w", moduleID, err)
			}
		}
		if cfg.SampleHz <= 0 {
			cfg.SampleHz = 15
		}
		if cfg.WallGrace <= 0 {
			cfg.WallGrace = 15 * time.Second
		}
		if cfg.KillGrace <= 0 {
			cfg.KillGrace = 3 * time.Second
		}
		return &Executor{config: cfg}, nil
	})
}

// config is the Executor's own JSON config. wall_grace and nonzero_rte
// are the campaign limits' named knobs; sample_hz and kill_grace are
// this implementation's tunables (sampler frequency and the
// SIGTERM→SIGKILL escalation window), required to drive it.
// Durations are nanosecond integers (time.Duration's own JSON shape);
// there is no config.yaml layer here to give them a friendlier string
// form.
type config struct {
	WallGrace  time.Duration `json:"wall_grace"`
	KillGrace  time.Duration `json:"kill_grace"`
	NonzeroRTE bool          `json:"nonzero_rte"`
	SampleHz   float64       `json:"sample_hz"`
}

// Executor is the Bounded Executor Step.
type Executor struct {
	config config
}

// Execute spawns sc.Tool's command line, enforces limits, and publishes
// a runstats:store event. It satisfies observer.Step.
func (e *Executor) Execute(ctx context.Context, sc *observer.Context) error {
	tool, err := tooladapter.New(sc.Tool, sc.ToolConfig)
	if err != nil {
		return err
	}

	if err := tool.PreRun(ctx, sc); err != nil {
		return fmt.Errorf("%s: pre_run: %w", moduleID, err)
	}

	cmdline, err := tool.Cmdline(ctx, sc)
	if err != nil {
		return fmt.Errorf("%s: cmdline: %w", moduleID, err)
	}
	if len(cmdline) == 0 {
		return fmt.Errorf("%s: empty command line", moduleID)
	}

	outFile, err := os.Create(filepath.Join(sc.Directory, "run.out"))
	if err != nil {
		return fmt.Errorf("%s: open run.out: %w", moduleID, err)
	}
	defer outFile.Close()

	errFile, err := os.Create(filepath.Join(sc.Directory, "run.err"))
	if err != nil {
		return fmt.Errorf("%s: open run.err: %w", moduleID, err)
	}
	defer errFile.Close()

	child := exec.Command(cmdline[0], cmdline[1:]...)
	child.Dir = sc.Directory
	child.Stdout = outFile
	child.Stderr = errFile
	child.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("%s: spawn: %w", moduleID, err)
	}
	pgid := child.Process.Pid

	timeLimit := sc.Limits["time_s"]
	memLimit := int64(sc.Limits["memory_bytes"])
	outputLimit := int64(sc.Limits["output_bytes"])
	wallCeiling := time.Duration(timeLimit*float64(time.Second)) + e.config.WallGrace

	samp := newSampler(pgid, time.Duration(float64(time.Second)/e.config.SampleHz))
	start := time.Now()

	done := make(chan struct{})
	var flag *tripFlag
	limitersDone := make(chan struct{})
	go func() {
		flag = runLimiters(ctx, samp, wallCeiling, timeLimit, memLimit, pgid, e.config.KillGrace, done)
		close(limitersDone)
	}()

	waitErr := child.Wait()
	close(done)
	<-limitersDone
	wallTime := time.Since(start).Seconds()

	if err := tool.PostRun(ctx, sc); err != nil {
		return fmt.Errorf("%s: post_run: %w", moduleID, err)
	}

	returnCode := exitCode(waitErr)
	outputSize := fileSize(outFile) + fileSize(errFile)
	peakMem, cpuTime := samp.snapshot()

	verdict := classify(flag.get(), waitErr, returnCode, e.config.NonzeroRTE, outputLimit, outputSize)

	payload := map[string]wire.Value{
		"run_id":      sc.RunID,
		"verdict":     string(verdict),
		"cpu_time":    cpuTime,
		"wall_time":   wallTime,
		"max_memory":  peakMem,
		"return_code": int64(returnCode),
		"output_size": outputSize,
	}
	return sc.Emit(wire.EventRunStatsStore, payload)
}
