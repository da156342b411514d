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

package tooladapter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/observer"
	"github.com/runbench/bench/internal/tooladapter"
	"github.com/runbench/bench/pkg/berrors"
)

func TestNewReturnsErrUnknownModuleForUnregisteredTool(t *testing.T) {
	_, err := tooladapter.New("NoSuchTool", "")
	require.ErrorIs(t, err, berrors.ErrUnknownModule)
}

func TestExecutableRendersSortedFlagsWithTaskLast(t *testing.T) {
	tool, err := tooladapter.New("Executable", `{"path":"/usr/bin/solver","prefix":"-"}`)
	require.NoError(t, err)

	rc := &observer.Context{
		Task:       "/inputs/a.cnf",
		Parameters: map[string]string{"verbosity": "2", "mode": "fast"},
	}
	cmd, err := tool.Cmdline(context.Background(), rc)
	require.NoError(t, err)
	require.Equal(t, []string{"/usr/bin/solver", "-mode=fast", "-verbosity=2", "/inputs/a.cnf"}, cmd)
}

func TestExecutableDefaultsToDoubleDashPrefix(t *testing.T) {
	tool, err := tooladapter.New("Executable", `{"path":"/usr/bin/solver"}`)
	require.NoError(t, err)

	cmd, err := tool.Cmdline(context.Background(), &observer.Context{
		Task:       "a",
		Parameters: map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/usr/bin/solver", "--k=v", "a"}, cmd)
}

func TestExecutableRequiresPath(t *testing.T) {
	_, err := tooladapter.New("Executable", `{}`)
	require.Error(t, err)
}

func TestGlucoseFixesVersionAndPrefix(t *testing.T) {
	tool, err := tooladapter.New("Glucose", "")
	require.NoError(t, err)

	version, err := tool.Version(context.Background())
	require.NoError(t, err)
	require.Equal(t, "4.1", version)

	cmd, err := tool.Cmdline(context.Background(), &observer.Context{
		Task:       "cnf",
		Parameters: map[string]string{"nthreads": "4"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"glucose-syrup", "-nthreads=4", "cnf"}, cmd)
}
