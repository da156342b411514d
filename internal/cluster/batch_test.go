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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWallAndMemCeilingFormula(t *testing.T) {
	// 17 jobs over 4 workers -> ceil(17/4) = 5; 2x a 10-minute per-run
	// wall and 2x a 512MiB per-run limit both scale by that factor
	// .
	cfg := BatchConfig{
		JobCount:     17,
		WorkerCount:  4,
		PerRunWall:   10 * time.Minute,
		PerRunMemMiB: 512,
	}
	require.Equal(t, 100*time.Minute, wallCeiling(cfg))
	require.Equal(t, int64(5120), memCeiling(cfg))
}

func TestRenderScriptIncludesArrayAndCeilings(t *testing.T) {
	cfg := BatchConfig{
		JobName:       "bench-run",
		WorkerBinary:  "benchctl",
		ServerAddress: "10.0.0.5:31313",
		WorkerCount:   8,
		JobCount:      20,
		PerRunWall:    5 * time.Minute,
		PerRunMemMiB:  256,
		Partition:     "compute",
	}
	script := renderScript(cfg)

	require.Contains(t, script, "#SBATCH --job-name=bench-run")
	require.Contains(t, script, "#SBATCH --array=0-7")
	require.Contains(t, script, "#SBATCH --partition=compute")
	require.Contains(t, script, "exec benchctl worker --server 10.0.0.5:31313")
	// ceil(20/8) = 3: wall 2 x 5m x 3 = 30m, memory 2 x 256 x 3 = 1536 MiB.
	require.Contains(t, script, "#SBATCH --time=00:30:00")
	require.Contains(t, script, "#SBATCH --mem=1536M")
}

func TestParseJobID(t *testing.T) {
	id, err := parseJobID("Submitted batch job 98765\n")
	require.NoError(t, err)
	require.Equal(t, "98765", id)

	_, err = parseJobID("sbatch: error: Batch job submission failed")
	require.Error(t, err)
}

func TestCeilDiv(t *testing.T) {
	require.Equal(t, 5, ceilDiv(17, 4))
	require.Equal(t, 1, ceilDiv(1, 4))
	require.Equal(t, 4, ceilDiv(16, 4))
}
