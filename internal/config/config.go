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

// Package config decodes the server/runtime configuration document
// (listen address, store path, auth, tracing, metrics) distinct from a
// campaign spec (internal/campaign's own YAML, decoded separately).
// Default() seeds every field, Load(path) overlays a YAML file then
// environment variables and runs Validate() on the result, and Validate()
// can also be called on its own.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runbench/bench/internal/log"
	"github.com/runbench/bench/pkg/berrors"
)

// Config is the server/runtime configuration for cmd/benchd and
// cmd/benchctl
type Config struct {
	// Listen is the Event Router's frontend TCP address.
	Listen string `yaml:"listen"`

	// ServeForever selects the router's termination policy: false exits
	// once the campaign drains, true runs until an operator signal.
	ServeForever bool `yaml:"serve_forever"`

	// RequestTimeout is decoded and validated here but read by nothing
	// outside this package; workers take REQUEST_TIMEOUT from
	// workerclient.Config.RequestTimeout (default 15s).
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Store   StoreConfig   `yaml:"store"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     log.Config    `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig configures the sqlite backend.
type StoreConfig struct {
	Path string `yaml:"path"`
	WAL  bool   `yaml:"wal"`
}

// AuthConfig configures the optional JWT bearer check internal/wire/auth
// enforces on WORKER_JOIN; other client-originated events are not checked.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SharedSecret string `yaml:"shared_secret"`
}

// TracingConfig mirrors internal/tracing.Config's YAML-decodable fields.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Exporter     string `yaml:"exporter"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns a Config with sensible defaults: the server binds a
// TCP address (default tcp://0.0.0.0:31313), runs with auth and tracing
// disabled, and exits once its campaign drains rather than serving
// forever.
func Default() *Config {
	return &Config{
		Listen:         "0.0.0.0:31313",
		ServeForever:   false,
		RequestTimeout: 15 * time.Second,
		Store:          StoreConfig{Path: "./bench.db", WAL: true},
		Log:            log.Config{Level: "info", Format: log.FormatJSON, Output: os.Stderr},
		Tracing:        TracingConfig{Enabled: false, Exporter: "stdout", ServiceName: "benchd"},
		Metrics:        MetricsConfig{Enabled: true, Listen: "127.0.0.1:9090"},
	}
}

// Load builds a Config from defaults, an optional YAML file, then
// environment variable overrides, validating the result before returning
// it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("%w: %v", berrors.ErrConfigInvalid, err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", berrors.ErrConfigInvalid, err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("BENCH_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("BENCH_SERVE_FOREVER"); v != "" {
		c.ServeForever = truthy(v)
	}
	if v := os.Getenv("BENCH_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("BENCH_AUTH_SECRET"); v != "" {
		c.Auth.SharedSecret = v
		c.Auth.Enabled = true
	}
	if v := os.Getenv("BENCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BENCH_LOG_FORMAT"); v != "" {
		c.Log.Format = log.Format(strings.ToLower(v))
	}
	if v := os.Getenv("BENCH_TRACING_EXPORTER"); v != "" {
		c.Tracing.Enabled = true
		c.Tracing.Exporter = v
	}
	if v := os.Getenv("BENCH_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	if c.Listen == "" {
		errs = append(errs, "listen must not be empty")
	}
	if c.Store.Path == "" {
		errs = append(errs, "store.path must not be empty")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[log.Format]bool{log.FormatJSON: true, log.FormatText: true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Auth.Enabled && c.Auth.SharedSecret == "" {
		errs = append(errs, "auth.shared_secret is required when auth.enabled is true")
	}

	if c.Tracing.Enabled {
		validExporters := map[string]bool{"stdout": true, "otlphttp": true}
		if !validExporters[c.Tracing.Exporter] {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, otlphttp], got %q", c.Tracing.Exporter))
		}
		if c.Tracing.Exporter == "otlphttp" && c.Tracing.OTLPEndpoint == "" {
			errs = append(errs, "tracing.otlp_endpoint is required when tracing.exporter is otlphttp")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
