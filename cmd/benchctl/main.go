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

package main

import (
	"github.com/runbench/bench/internal/cli"
	"github.com/runbench/bench/internal/commands/bootstrap"
	"github.com/runbench/bench/internal/commands/cluster"
	"github.com/runbench/bench/internal/commands/serve"
	"github.com/runbench/bench/internal/commands/status"
	"github.com/runbench/bench/internal/commands/version"
	"github.com/runbench/bench/internal/commands/worker"
)

// Version information, injected via ldflags at build time.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

func main() {
	cli.SetVersion(buildVersion, buildCommit, buildDate)

	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(serve.NewCommand())
	rootCmd.AddCommand(bootstrap.NewCommand())
	rootCmd.AddCommand(worker.NewCommand())
	rootCmd.AddCommand(cluster.NewCommand())
	rootCmd.AddCommand(status.NewCommand())
	rootCmd.AddCommand(version.NewCommand())

	cli.HandleExitError(rootCmd.Execute())
}
