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

// Package shared holds the benchctl-wide flag state and small helpers
// every command package needs: package-level flag variables bound once
// by the root command, fetched by name elsewhere.
package shared

// Global flag values, set by the root command's persistent flags.
var (
	jsonFlag    bool
	configFlag  string
	serverFlag  string
	tokenFlag   string
	version     = "dev"
	commit      = "unknown"
	buildDate   = "unknown"
)

// RegisterFlagPointers returns pointers to the persistent flag variables
// for the root command to bind.
func RegisterFlagPointers() (json *bool, config *string, serverAddr *string, token *string) {
	return &jsonFlag, &configFlag, &serverFlag, &tokenFlag
}

// SetVersion records build-time version metadata (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns build-time version metadata.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetJSON reports whether --json was passed.
func GetJSON() bool {
	return jsonFlag
}

// GetConfigPath returns the --config flag value.
func GetConfigPath() string {
	return configFlag
}

// GetServerAddress returns the --server flag value.
func GetServerAddress() string {
	return serverFlag
}

// GetToken returns the --token flag value, the bearer token presented to
// the server's WORKER_JOIN auth check.
func GetToken() string {
	return tokenFlag
}
