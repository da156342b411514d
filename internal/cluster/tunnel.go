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

package cluster

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// TunnelConfig configures the optional SSH tunnel a batch manager can
// route worker traffic through: a local ephemeral port forwards to
// RemoteAddress on the far side of Host.
type TunnelConfig struct {
	Host           string // "host:port"
	User           string
	PrivateKeyFile string

	// KnownHostsFile verifies Host's key against it. Left empty, the
	// tunnel trusts whatever key Host presents - acceptable for a
	// manager dialing a cluster's own head node, never for arbitrary
	// hosts; callers bridging an untrusted network should set this.
	KnownHostsFile string

	RemoteAddress string
	DialTimeout   time.Duration
}

// Tunnel is a live local port-forward: connections to Addr() are
// forwarded over one SSH connection to RemoteAddress.
type Tunnel struct {
	listener net.Listener
	client   *ssh.Client
}

// Open dials Host over SSH and starts forwarding a locally-bound
// ephemeral port to RemoteAddress. Callers should point workers or a
// local pool at Addr() instead of the real server address.
func Open(cfg TunnelConfig) (*Tunnel, error) {
	key, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("cluster: read ssh private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("cluster: parse ssh private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("cluster: load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := ssh.Dial("tcp", cfg.Host, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("cluster: ssh dial %s: %w", cfg.Host, err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("cluster: listen for tunnel: %w", err)
	}

	t := &Tunnel{listener: ln, client: client}
	go t.acceptLoop(cfg.RemoteAddress)
	return t, nil
}

// Addr is the local address workers should dial instead of the tunnel's
// remote address.
func (t *Tunnel) Addr() string {
	return t.listener.Addr().String()
}

func (t *Tunnel) acceptLoop(remoteAddr string) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		go t.forward(conn, remoteAddr)
	}
}

func (t *Tunnel) forward(local net.Conn, remoteAddr string) {
	defer local.Close()
	remote, err := t.client.Dial("tcp", remoteAddr)
	if err != nil {
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(remote, local); done <- struct{}{} }()
	go func() { io.Copy(local, remote); done <- struct{}{} }()
	<-done
}

// Close tears down the tunnel's listener and SSH connection.
func (t *Tunnel) Close() error {
	t.listener.Close()
	return t.client.Close()
}
