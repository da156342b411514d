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

package shared

import (
	"fmt"
	"net"
	"time"

	"github.com/runbench/bench/internal/wire"
	"github.com/runbench/bench/pkg/berrors"
)

// CallServer dials addr, writes one Frontend frame carrying kind/payload,
// reads the matching Reply, and closes the connection. It is the one-shot
// request/reply pattern the benchctl operator commands (bootstrap, and
// cluster local/batch's REQUEST_PENDING lookup) use against a running
// benchd, as opposed to internal/workerclient's long-lived join loop.
func CallServer(addr string, kind wire.EventKind, payload wire.Value, timeout time.Duration) (wire.Value, error) {
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", berrors.ErrTransport, addr, err)
	}
	defer nc.Close()

	clientID := "benchctl"
	if err := wire.WriteFrontend(nc, wire.Frontend{ClientID: clientID, Kind: kind, Payload: payload}); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", berrors.ErrTransport, kind, err)
	}

	nc.SetReadDeadline(time.Now().Add(timeout))
	reply, err := wire.ReadReply(nc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s reply: %v", berrors.ErrTransport, kind, err)
	}
	return reply.Payload, nil
}
