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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// BatchConfig configures the "Batch (Slurm)" variant: submit
// one job array of size WorkerCount, each task launching a pool-mode
// worker against ServerAddress. Wall-time and memory ceilings are 2x the
// per-run limit x ceil(jobs/workers).
type BatchConfig struct {
	JobName       string
	WorkerBinary  string
	ServerAddress string

	// WorkerCount sizes the job array.
	WorkerCount int
	// JobCount is the total pending run count, feeding the wall/memory
	// ceiling formula.
	JobCount int

	PerRunWall   time.Duration
	PerRunMemMiB int64

	Partition string
	// OutputDir, if set, receives sbatch's --output/--error logs.
	OutputDir string
}

// Submit renders an sbatch script for cfg and submits it, returning
// Slurm's assigned job id.
func Submit(ctx context.Context, cfg BatchConfig) (string, error) {
	if cfg.WorkerCount <= 0 {
		return "", fmt.Errorf("cluster: batch worker count must be positive")
	}

	cmd := exec.CommandContext(ctx, "sbatch")
	cmd.Stdin = strings.NewReader(renderScript(cfg))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("cluster: sbatch: %w: %s", err, out.String())
	}

	return parseJobID(out.String())
}

// wallCeiling and memCeiling implement the 2x array-ceiling formula.
func wallCeiling(cfg BatchConfig) time.Duration {
	return 2 * cfg.PerRunWall * time.Duration(ceilDiv(cfg.JobCount, cfg.WorkerCount))
}

func memCeiling(cfg BatchConfig) int64 {
	return 2 * cfg.PerRunMemMiB * int64(ceilDiv(cfg.JobCount, cfg.WorkerCount))
}

func renderScript(cfg BatchConfig) string {
	var b strings.Builder
	fmt.Fprint(&b, "#!/bin/sh\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", nonEmpty(cfg.JobName, "bench"))
	fmt.Fprintf(&b, "#SBATCH --array=0-%d\n", cfg.WorkerCount-1)
	fmt.Fprintf(&b, "#SBATCH --time=%s\n", formatSlurmDuration(wallCeiling(cfg)))
	fmt.Fprintf(&b, "#SBATCH --mem=%dM\n", memCeiling(cfg))
	if cfg.Partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", cfg.Partition)
	}
	if cfg.OutputDir != "" {
		fmt.Fprintf(&b, "#SBATCH --output=%s/worker-%%a.out\n", cfg.OutputDir)
		fmt.Fprintf(&b, "#SBATCH --error=%s/worker-%%a.err\n", cfg.OutputDir)
	}
	fmt.Fprintf(&b, "exec %s\n", workerCommandLine(nonEmpty(cfg.WorkerBinary, "benchctl"), cfg.ServerAddress, ""))
	return b.String()
}

func formatSlurmDuration(d time.Duration) string {
	if d <= 0 {
		d = time.Hour
	}
	total := int64(d.Round(time.Minute) / time.Minute)
	return fmt.Sprintf("%02d:%02d:00", total/60, total%60)
}

func parseJobID(sbatchOutput string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(sbatchOutput))
	for i, f := range fields {
		if f == "job" && i+1 < len(fields) {
			if _, err := strconv.ParseUint(fields[i+1], 10, 64); err == nil {
				return fields[i+1], nil
			}
		}
	}
	return "", fmt.Errorf("cluster: could not parse job id from sbatch output: %q", sbatchOutput)
}
