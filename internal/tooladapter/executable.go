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

package tooladapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"

	"github.com/runbench/bench/internal/observer"
)

func init() {
	Register("Executable", func(raw string) (Tool, error) {
		cfg := executableConfig{Prefix: "--"}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				return nil, fmt.Errorf("Executable tool config: %w", err)
			}
		}
		if cfg.Prefix == "" {
			cfg.Prefix = "--"
		}
		if cfg.Path == "" {
			return nil, fmt.Errorf("Executable tool config: %q is required", "path")
		}
		return &executable{config: cfg}, nil
	})
}

// executableConfig is the default adapter's raw config: the binary path
// (resolved through PATH if not absolute) and the flag prefix used to
// render parameters.
type executableConfig struct {
	Path   string `json:"path"`
	Prefix string `json:"prefix"`
}

// executable is the default Tool adapter: it
// renders each run parameter as "{prefix}{key}={value}" and appends the
// task path as the final argument. Most concrete tools (see glucose.go)
// are thin wraps of this with a fixed path/prefix/version, mirroring how
// the Python examples subclass ExecutableTool.
type executable struct {
	config executableConfig
}

func (e *executable) Setup(ctx context.Context) error { return nil }

func (e *executable) IsReady(ctx context.Context) bool {
	_, err := exec.LookPath(e.config.Path)
	return err == nil
}

func (e *executable) Version(ctx context.Context) (string, error) { return "", nil }

func (e *executable) PreRun(ctx context.Context, rc *observer.Context) error { return nil }

func (e *executable) Cmdline(ctx context.Context, rc *observer.Context) ([]string, error) {
	keys := make([]string, 0, len(rc.Parameters))
	for k := range rc.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)+2)
	args = append(args, e.config.Path)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("%s%s=%s", e.config.Prefix, k, rc.Parameters[k]))
	}
	args = append(args, rc.Task)
	return args, nil
}

func (e *executable) PostRun(ctx context.Context, rc *observer.Context) error { return nil }

func (e *executable) Teardown(ctx context.Context) error { return nil }
