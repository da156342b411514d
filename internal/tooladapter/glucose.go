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

	"github.com/runbench/bench/internal/observer"
)

// glucose wraps executable with the fixed path/prefix/version
// examples/sat/tools/glucose.py hardcodes on its ExecutableTool subclass.
// Its setup() (download+build of the glucose-syrup tarball) is outside
// this engine's scope; is_ready() assumes the binary is already on PATH.
type glucose struct {
	executable
}

func init() {
	Register("Glucose", func(raw string) (Tool, error) {
		path := "glucose-syrup"
		if raw != "" {
			var cfg struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal([]byte(raw), &cfg); err == nil && cfg.Path != "" {
				path = cfg.Path
			}
		}
		return &glucose{executable: executable{config: executableConfig{Path: path, Prefix: "-"}}}, nil
	})
}

func (g *glucose) Version(ctx context.Context) (string, error) { return "4.1", nil }
