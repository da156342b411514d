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

package executor_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/runbench/bench/internal/executor"
	"github.com/runbench/bench/internal/observer"
	"github.com/runbench/bench/internal/tooladapter"
	"github.com/runbench/bench/internal/wire"
)

// fakeTool is a minimal tooladapter.Tool with a fixed command line, so
// tests can drive the executor's limiter/classification paths without
// depending on the default Executable adapter's argument rendering.
type fakeTool struct{ cmd []string }

func (f fakeTool) Setup(ctx context.Context) error                          { return nil }
func (f fakeTool) IsReady(ctx context.Context) bool                         { return true }
func (f fakeTool) Version(ctx context.Context) (string, error)              { return "test", nil }
func (f fakeTool) PreRun(ctx context.Context, rc *observer.Context) error    { return nil }
func (f fakeTool) PostRun(ctx context.Context, rc *observer.Context) error   { return nil }
func (f fakeTool) Teardown(ctx context.Context) error                       { return nil }
func (f fakeTool) Cmdline(ctx context.Context, rc *observer.Context) ([]string, error) {
	return f.cmd, nil
}

func registerFakeTool(moduleID string, cmd []string) {
	tooladapter.Register(moduleID, func(string) (tooladapter.Tool, error) {
		return fakeTool{cmd: cmd}, nil
	})
}

func newExecutorStep(t *testing.T, rawConfig string) observer.Step {
	t.Helper()
	step, err := observer.New("BoundedExecutor", rawConfig)
	require.NoError(t, err)
	return step
}

func TestExecutorPublishesOKVerdictOnSuccessfulExit(t *testing.T) {
	registerFakeTool("ok-tool", []string{"/bin/true"})
	dir := t.TempDir()

	var payload map[string]wire.Value
	sc := &observer.Context{
		RunID:     "r1",
		Directory: dir,
		Tool:      "ok-tool",
		Limits:    map[string]float64{"time_s": 5, "memory_bytes": 1 << 30, "output_bytes": 1 << 20},
		Publish: func(kind wire.EventKind, p wire.Value) error {
			require.Equal(t, wire.EventRunStatsStore, kind)
			payload = p.(map[string]wire.Value)
			return nil
		},
	}

	require.NoError(t, newExecutorStep(t, "").Execute(context.Background(), sc))
	require.Equal(t, "OK", payload["verdict"])
	require.Equal(t, int64(0), payload["return_code"])

	_, err := os.Stat(filepath.Join(dir, "run.out"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "run.err"))
	require.NoError(t, err)
}

func TestExecutorClassifiesRTEOnNonzeroExit(t *testing.T) {
	registerFakeTool("rte-tool", []string{"/bin/false"})
	dir := t.TempDir()

	var payload map[string]wire.Value
	sc := &observer.Context{
		RunID:     "r2",
		Directory: dir,
		Tool:      "rte-tool",
		Limits:    map[string]float64{"time_s": 5, "memory_bytes": 1 << 30},
		Publish: func(kind wire.EventKind, p wire.Value) error {
			payload = p.(map[string]wire.Value)
			return nil
		},
	}

	require.NoError(t, newExecutorStep(t, "").Execute(context.Background(), sc))
	require.Equal(t, "RTE", payload["verdict"])
	require.NotEqual(t, int64(0), payload["return_code"])
}

func TestExecutorClassifiesTLEOnWallTimeLimiter(t *testing.T) {
	registerFakeTool("tle-tool", []string{"/bin/sleep", "5"})
	dir := t.TempDir()

	var payload map[string]wire.Value
	sc := &observer.Context{
		RunID:     "r3",
		Directory: dir,
		Tool:      "tle-tool",
		Limits:    map[string]float64{"time_s": 0.1},
		Publish: func(kind wire.EventKind, p wire.Value) error {
			payload = p.(map[string]wire.Value)
			return nil
		},
	}

	cfg, err := json.Marshal(map[string]any{
		"wall_grace": int64(150 * time.Millisecond),
		"kill_grace": int64(100 * time.Millisecond),
		"sample_hz":  50.0,
	})
	require.NoError(t, err)

	require.NoError(t, newExecutorStep(t, string(cfg)).Execute(context.Background(), sc))
	require.Equal(t, "TLE", payload["verdict"])
}

func TestExecutorClassifiesOLEOnCombinedStdoutStderr(t *testing.T) {
	registerFakeTool("ole-tool", []string{"/bin/sh", "-c", "printf '123456'; printf '123456' >&2"})
	dir := t.TempDir()

	var payload map[string]wire.Value
	sc := &observer.Context{
		RunID:     "r6",
		Directory: dir,
		Tool:      "ole-tool",
		// Neither stream alone (6 bytes) exceeds the limit, but their sum does.
		Limits: map[string]float64{"time_s": 5, "memory_bytes": 1 << 30, "output_bytes": 10},
		Publish: func(kind wire.EventKind, p wire.Value) error {
			payload = p.(map[string]wire.Value)
			return nil
		},
	}

	require.NoError(t, newExecutorStep(t, "").Execute(context.Background(), sc))
	require.Equal(t, "OLE", payload["verdict"])
	require.Equal(t, int64(12), payload["output_size"])
}

func TestExecutorRejectsUnknownToolModule(t *testing.T) {
	sc := &observer.Context{RunID: "r4", Directory: t.TempDir(), Tool: "NoSuchTool"}
	err := newExecutorStep(t, "").Execute(context.Background(), sc)
	require.Error(t, err)
}

func TestExecutorOutputsDefaultToOKWithoutPublish(t *testing.T) {
	registerFakeTool("no-publish-tool", []string{"/bin/true"})
	dir := t.TempDir()

	sc := &observer.Context{RunID: "r5", Directory: dir, Tool: "no-publish-tool",
		Limits: map[string]float64{"time_s": 5}}

	require.NoError(t, newExecutorStep(t, "").Execute(context.Background(), sc))
}
