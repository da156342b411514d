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
	"errors"
	"os"
	"os/exec"

	"github.com/runbench/bench/internal/campaign"
)

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func fileSize(f *os.File) int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// classify implements the verdict table, ties broken
// top-down: TLE beats MEM beats RTE beats OLE beats OK.
func classify(tripped string, waitErr error, returnCode int, nonzeroRTE bool, outputLimit, outputSize int64) campaign.Verdict {
	switch tripped {
	case "TLE":
		return campaign.VerdictTLE
	case "MEM":
		return campaign.VerdictMEM
	}
	if waitErr != nil || (nonzeroRTE && returnCode != 0) {
		return campaign.VerdictRTE
	}
	if outputLimit > 0 && outputSize > outputLimit {
		return campaign.VerdictOLE
	}
	return campaign.VerdictOK
}
