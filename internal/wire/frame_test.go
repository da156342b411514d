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

package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/wire"
)

func TestFrontendFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := wire.Frontend{
		ClientID: "worker-1",
		Kind:     wire.EventRunStart,
		Payload:  map[string]wire.Value{"run_id": "abc"},
	}
	require.NoError(t, wire.WriteFrontend(&buf, in))

	out, err := wire.ReadFrontend(&buf)
	require.NoError(t, err)
	require.Equal(t, in.ClientID, out.ClientID)
	require.Equal(t, in.Kind, out.Kind)
}

func TestBackendFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := wire.Backend{Kind: wire.EventRunFinish, Payload: "done", ClientID: "worker-2"}
	require.NoError(t, wire.WriteBackend(&buf, in))

	out, err := wire.ReadBackend(&buf)
	require.NoError(t, err)
	require.Equal(t, in, *out)
}

func TestReplyFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := wire.Reply{ClientID: "worker-3", Payload: int64(7)}
	require.NoError(t, wire.WriteReply(&buf, in))

	out, err := wire.ReadReply(&buf)
	require.NoError(t, err)
	require.Equal(t, in, *out)
}

func TestReadFrontendRejectsWrongPartCount(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteReply(&buf, wire.Reply{ClientID: "x", Payload: nil}))

	_, err := wire.ReadFrontend(&buf)
	require.Error(t, err)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrontend(&buf, wire.Frontend{ClientID: "a", Kind: wire.EventServerPing}))
	require.NoError(t, wire.WriteFrontend(&buf, wire.Frontend{ClientID: "b", Kind: wire.EventWorkerJoin}))

	first, err := wire.ReadFrontend(&buf)
	require.NoError(t, err)
	require.Equal(t, "a", first.ClientID)

	second, err := wire.ReadFrontend(&buf)
	require.NoError(t, err)
	require.Equal(t, "b", second.ClientID)
}
