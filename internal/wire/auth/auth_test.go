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

package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runbench/bench/internal/wire/auth"
)

func TestDisabledValidatorAcceptsAnyToken(t *testing.T) {
	v := auth.NewValidator(nil)
	require.False(t, v.Enabled())
	id, err := v.Validate("client-1", "")
	require.NoError(t, err)
	require.Equal(t, "client-1", id)
}

func TestValidatorAcceptsSignedToken(t *testing.T) {
	key := []byte("test-signing-key")
	token, err := auth.Sign(key, "worker-7", time.Minute)
	require.NoError(t, err)

	v := auth.NewValidator(key)
	id, err := v.Validate("client-1", token)
	require.NoError(t, err)
	require.Equal(t, "worker-7", id)
}

func TestValidatorRejectsBadToken(t *testing.T) {
	v := auth.NewValidator([]byte("key"))
	_, err := v.Validate("client-1", "not-a-jwt")
	require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
}

func TestValidatorRejectsExpiredToken(t *testing.T) {
	key := []byte("key")
	token, err := auth.Sign(key, "worker-1", -time.Minute)
	require.NoError(t, err)

	v := auth.NewValidator(key)
	_, err = v.Validate("client-1", token)
	require.ErrorIs(t, err, auth.ErrAuthenticationFailed)
}

func TestValidatorRateLimitsRepeatedFailures(t *testing.T) {
	v := auth.NewValidator([]byte("key"))
	for i := 0; i < 5; i++ {
		_, _ = v.Validate("bad-client", "garbage")
	}
	_, err := v.Validate("bad-client", "garbage")
	require.ErrorIs(t, err, auth.ErrRateLimitExceeded)
}
