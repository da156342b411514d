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

// Package log provides structured logging for the bench campaign engine.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// LevelTrace is more verbose than Debug: full subprocess stdout/stderr
// samples and raw wire frames land here.
const LevelTrace = slog.Level(-8)

// Standard field keys, kept consistent across packages.
const (
	RunIDKey    = "run_id"
	StepKey     = "step"
	ToolKey     = "tool"
	ClientIDKey = "client_id"
	EventKey    = "event"
	DurationKey = "duration_ms"
	VerdictKey  = "verdict"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level (trace, debug, info, warn, error).
	Level string `yaml:"level"`
	// Format is the output encoding (json, text).
	Format Format `yaml:"format"`
	// Output is the destination writer; defaults to os.Stderr. Not
	// decoded from YAML - set by the caller after Load.
	Output io.Writer `yaml:"-"`
	// AddSource adds file:line to each record.
	AddSource bool `yaml:"add_source"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv builds a Config from BENCH_LOG_LEVEL / BENCH_LOG_FORMAT.
func FromEnv() *Config {
	cfg := DefaultConfig()
	if lvl := os.Getenv("BENCH_LOG_LEVEL"); lvl != "" {
		cfg.Level = lvl
	}
	if format := os.Getenv("BENCH_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	return cfg
}

func (c *Config) level() slog.Level {
	switch strings.ToLower(c.Level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New constructs a slog.Logger from the given Config.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.level(),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level, ok := a.Value.Any().(slog.Level)
				if ok && level == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}
