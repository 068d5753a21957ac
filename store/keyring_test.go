// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/hashicorp/cap-session/cognito"
	"github.com/hashicorp/cap-session/sdk/id"
)

func init() {
	keyring.MockInit()
}

func testService(t *testing.T) string {
	t.Helper()
	s, err := id.New("cap-session-test")
	require.NoError(t, err)
	return s
}

func TestKeyring(t *testing.T) {
	t.Parallel()
	testStore(t, func(t *testing.T) storePair {
		require := require.New(t)
		clock := clockwork.NewFakeClock()
		service := testService(t)
		a, err := NewKeyring(service, WithClock(clock))
		require.NoError(err)
		b, err := NewKeyring(service, WithClock(clock))
		require.NoError(err)
		return storePair{a: a, b: b, tick: func() {
			clock.BlockUntil(2)
			clock.Advance(DefaultPollInterval)
		}}
	})
}

func TestNewKeyring(t *testing.T) {
	t.Parallel()
	_, err := NewKeyring("")
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestKeyring_Secrets(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	service := testService(t)
	k, err := NewKeyring(service, WithKeyPrefix("app1."))
	require.NoError(err)

	require.NoError(k.Save(ctx, cognito.Tokens{AccessToken: "a1", IdToken: "i1", RefreshToken: "r1"}))
	v, err := keyring.Get(service, "app1.CognitoRefreshToken")
	require.NoError(err)
	assert.Equal("r1", v)

	require.NoError(k.Clear(ctx))
	_, err = keyring.Get(service, "app1.CognitoRefreshToken")
	assert.ErrorIs(err, keyring.ErrNotFound)
}
