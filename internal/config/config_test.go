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

package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/config"
	"github.com/runbench/bench/pkg/berrors"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestLoadOverlaysFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "127.0.0.1:9999"
store:
  path: /var/lib/bench/bench.db
  wal: false
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.Listen)
	require.Equal(t, "/var/lib/bench/bench.db", cfg.Store.Path)
	require.False(t, cfg.Store.WAL)
	// Untouched fields keep their defaults.
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \"127.0.0.1:9999\"\n"), 0o644))
	t.Setenv("BENCH_LISTEN", "0.0.0.0:40000")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:40000", cfg.Listen)
}

func TestValidateRejectsEmptyListen(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = ""
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsAuthEnabledWithoutSecret(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsOTLPHTTPWithoutEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlphttp"
	require.Error(t, cfg.Validate())
}

func TestLoadWrapsErrConfigInvalidOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid yaml"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, berrors.ErrConfigInvalid))
}
