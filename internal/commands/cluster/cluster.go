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

// Package cluster implements "benchctl cluster": dispatch a campaign's
// pending runs to workers, either a local process pool or a Slurm job
// array. "local" can optionally reach the server through an SSH tunnel
// when it only listens on a cluster-internal address the submitting
// host can reach but local workers can't dial directly; "batch" workers
// run on separate compute nodes and so always need a directly routable
// server address.
package cluster

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/runbench/bench/internal/cluster"
	"github.com/runbench/bench/internal/commands/shared"
	"github.com/runbench/bench/internal/wire"
)

// NewCommand creates the cluster command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Dispatch pending runs to workers",
	}
	cmd.AddCommand(newLocalCommand(), newBatchCommand())
	return cmd
}

// sshFlags holds the optional SSH-tunnel flag set of the "local"
// dispatch subcommand: when Host is set, the command opens a tunnel to
// the server and dials the tunnel's local address instead, for a server
// that only listens on a cluster-internal address.
type sshFlags struct {
	host           string
	user           string
	keyFile        string
	knownHostsFile string
}

func addSSHFlags(cmd *cobra.Command, f *sshFlags) {
	cmd.Flags().StringVar(&f.host, "ssh-tunnel-host", "", "SSH host (host:port) to tunnel through to reach the server")
	cmd.Flags().StringVar(&f.user, "ssh-user", "", "SSH user for the tunnel")
	cmd.Flags().StringVar(&f.keyFile, "ssh-key", "", "Private key file for the tunnel")
	cmd.Flags().StringVar(&f.knownHostsFile, "ssh-known-hosts", "", "known_hosts file to verify the tunnel host's key (empty trusts any key)")
}

// resolveServerAddress opens an SSH tunnel to the configured server
// address and returns the tunnel's local address plus a closer, when
// ssh-tunnel-host is set; otherwise it returns the server address
// unchanged and a no-op closer.
func resolveServerAddress(f sshFlags) (addr string, closeFn func(), err error) {
	serverAddr := shared.GetServerAddress()
	if f.host == "" {
		return serverAddr, func() {}, nil
	}

	tun, err := cluster.Open(cluster.TunnelConfig{
		Host:           f.host,
		User:           f.user,
		PrivateKeyFile: f.keyFile,
		KnownHostsFile: f.knownHostsFile,
		RemoteAddress:  serverAddr,
	})
	if err != nil {
		return "", nil, fmt.Errorf("open ssh tunnel: %w", err)
	}
	return tun.Addr(), func() { tun.Close() }, nil
}

// pendingRunIDs asks the running server for its REQUEST_PENDING list
// rather than reading the store file directly, so cluster dispatch works
// against a server on another host, not just one whose sqlite file
// happens to be locally mounted.
func pendingRunIDs(ctx context.Context, serverAddr string) ([]string, error) {
	reply, err := shared.CallServer(serverAddr, wire.EventRequestPending, nil, 10*time.Second)
	if err != nil {
		return nil, err
	}
	vals, ok := reply.([]wire.Value)
	if !ok {
		return nil, fmt.Errorf("cluster: unexpected REQUEST_PENDING reply type %T", reply)
	}
	ids := make([]string, 0, len(vals))
	for _, v := range vals {
		id, _ := v.(string)
		ids = append(ids, id)
	}
	return ids, nil
}

func newLocalCommand() *cobra.Command {
	var (
		poolSize int
		yes      bool
		ssh      sshFlags
	)

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Run pending runs through a local worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			serverAddr, closeTunnel, err := resolveServerAddress(ssh)
			if err != nil {
				return err
			}
			defer closeTunnel()

			runIDs, err := pendingRunIDs(ctx, serverAddr)
			if err != nil {
				return err
			}
			if len(runIDs) == 0 {
				fmt.Println("no pending runs")
				return nil
			}

			ok, err := shared.ConfirmDestructive(
				fmt.Sprintf("spawn %d local worker processes now?", len(runIDs)), yes)
			if err != nil {
				return fmt.Errorf("confirm: %w", err)
			}
			if !ok {
				fmt.Println("aborted")
				return nil
			}

			return cluster.RunLocal(ctx, cluster.LocalConfig{
				WorkerBinary:  os.Args[0],
				ServerAddress: serverAddr,
				PoolSize:      poolSize,
				Progress:      true,
			}, runIDs)
		},
	}

	cmd.Flags().IntVar(&poolSize, "pool-size", 0, "Concurrent worker processes (default: CPU count)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	addSSHFlags(cmd, &ssh)

	return cmd
}

func newBatchCommand() *cobra.Command {
	var (
		jobName      string
		workerCount  int
		perRunWall   time.Duration
		perRunMemMiB int64
		partition    string
		outputDir    string
		yes          bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit pending runs as a Slurm job array",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			serverAddr := shared.GetServerAddress()
			runIDs, err := pendingRunIDs(ctx, serverAddr)
			if err != nil {
				return err
			}
			if len(runIDs) == 0 {
				fmt.Println("no pending runs")
				return nil
			}

			ok, err := shared.ConfirmDestructive(
				fmt.Sprintf("submit a %d-task Slurm array for %d pending runs?", workerCount, len(runIDs)), yes)
			if err != nil {
				return fmt.Errorf("confirm: %w", err)
			}
			if !ok {
				fmt.Println("aborted")
				return nil
			}

			jobID, err := cluster.Submit(ctx, cluster.BatchConfig{
				JobName:       jobName,
				ServerAddress: shared.GetServerAddress(),
				WorkerCount:   workerCount,
				JobCount:      len(runIDs),
				PerRunWall:    perRunWall,
				PerRunMemMiB:  perRunMemMiB,
				Partition:     partition,
				OutputDir:     outputDir,
			})
			if err != nil {
				return err
			}

			fmt.Printf("submitted Slurm job %s for %d pending runs\n", jobID, len(runIDs))
			return nil
		},
	}

	cmd.Flags().StringVar(&jobName, "job-name", "bench", "Slurm job name")
	cmd.Flags().IntVar(&workerCount, "workers", 1, "Job array size")
	cmd.Flags().DurationVar(&perRunWall, "per-run-wall", time.Hour, "Per-run wall time limit, feeds the 2x array ceiling")
	cmd.Flags().Int64Var(&perRunMemMiB, "per-run-mem-mib", 1024, "Per-run memory limit in MiB, feeds the 2x array ceiling")
	cmd.Flags().StringVar(&partition, "partition", "", "Slurm partition")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for sbatch --output/--error logs")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
