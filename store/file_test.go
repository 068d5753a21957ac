// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/cap-session/cognito"
)

func TestFile(t *testing.T) {
	t.Parallel()
	testStore(t, func(t *testing.T) storePair {
		require := require.New(t)
		clock := clockwork.NewFakeClock()
		path := filepath.Join(t.TempDir(), "tokens.json")
		a, err := NewFile(path, WithClock(clock))
		require.NoError(err)
		b, err := NewFile(path, WithClock(clock))
		require.NoError(err)
		return storePair{a: a, b: b, tick: func() {
			clock.BlockUntil(2)
			clock.Advance(DefaultPollInterval)
		}}
	})
}

func TestNewFile(t *testing.T) {
	t.Parallel()
	_, err := NewFile("")
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestFile_Save(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")
	f, err := NewFile(path)
	require.NoError(err)

	require.NoError(f.Save(ctx, cognito.Tokens{AccessToken: "a1", IdToken: "i1", RefreshToken: "r1"}))
	info, err := os.Stat(path)
	require.NoError(err)
	assert.Equal(os.FileMode(0o600), info.Mode().Perm())

	b, err := os.ReadFile(path)
	require.NoError(err)
	assert.JSONEq(`{"CognitoAccessToken":"a1","CognitoIdToken":"i1","CognitoRefreshToken":"r1"}`, string(b))

	// no temp files are left behind
	matches, err := filepath.Glob(path + ".*.tmp")
	require.NoError(err)
	assert.Empty(matches)
}

func TestFile_Corrupt(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(os.WriteFile(path, []byte("{not json"), 0o600))
	f, err := NewFile(path)
	require.NoError(err)

	_, err = f.Load(ctx)
	require.Error(err)
	require.NotErrorIs(err, ErrNotFound)
	require.Error(f.Save(ctx, cognito.Tokens{AccessToken: "a1", IdToken: "i1", RefreshToken: "r1"}))
}

func TestFile_LockTimeout(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")
	f, err := NewFile(path, WithLockTimeout(100*time.Millisecond))
	require.NoError(err)

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(err)
	require.True(locked)
	defer func() { _ = other.Unlock() }()

	err = f.Save(ctx, cognito.Tokens{AccessToken: "a1", IdToken: "i1", RefreshToken: "r1"})
	require.ErrorIs(err, ErrLockTimeout)
}
