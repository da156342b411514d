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

package log_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/log"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&log.Config{Level: "warn", Format: log.FormatJSON, Output: &buf})

	logger.Info("should not appear")
	logger.Warn("should appear")

	out := buf.String()
	require.NotContains(t, out, "should not appear")
	require.Contains(t, out, "should appear")
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := log.FromEnv()
	require.Equal(t, "info", cfg.Level)
	require.Equal(t, log.FormatJSON, cfg.Format)
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&log.Config{Level: "info", Format: log.FormatText, Output: &buf})
	logger.Info("hello", "k", "v")
	require.True(t, strings.Contains(buf.String(), "hello"))
}
