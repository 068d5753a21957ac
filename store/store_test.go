// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/cap-session/cognito"
)

// storePair is two contexts sharing storage.  tick drives change detection
// for stores that poll.
type storePair struct {
	a, b Store
	tick func()
}

// testStore runs the behavior every Store must have.
func testStore(t *testing.T, newPair func(t *testing.T) storePair) {
	t.Helper()
	ctx := context.Background()
	full := cognito.Tokens{AccessToken: "a1", IdToken: "i1", RefreshToken: "r1"}

	t.Run("load-empty", func(t *testing.T) {
		require := require.New(t)
		p := newPair(t)
		_, err := p.a.Load(ctx)
		require.Error(err)
		require.ErrorIs(err, ErrNotFound)
	})
	t.Run("save-load", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := newPair(t)
		require.NoError(p.a.Save(ctx, full))
		got, err := p.b.Load(ctx)
		require.NoError(err)
		assert.Equal(&full, got)
	})
	t.Run("partial-save-keeps-refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := newPair(t)
		require.NoError(p.a.Save(ctx, full))
		require.NoError(p.a.Save(ctx, cognito.Tokens{AccessToken: "a2", IdToken: "i2"}))
		got, err := p.a.Load(ctx)
		require.NoError(err)
		assert.Equal(&cognito.Tokens{AccessToken: "a2", IdToken: "i2", RefreshToken: "r1"}, got)
	})
	t.Run("missing-key", func(t *testing.T) {
		require := require.New(t)
		p := newPair(t)
		require.NoError(p.a.Save(ctx, cognito.Tokens{AccessToken: "a1", IdToken: "i1"}))
		_, err := p.a.Load(ctx)
		require.ErrorIs(err, ErrNotFound)
	})
	t.Run("clear", func(t *testing.T) {
		require := require.New(t)
		p := newPair(t)
		require.NoError(p.a.Save(ctx, full))
		require.NoError(p.a.Clear(ctx))
		_, err := p.b.Load(ctx)
		require.ErrorIs(err, ErrNotFound)
		require.NoError(p.a.Clear(ctx))
	})
	t.Run("on-change", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := newPair(t)

		var mu sync.Mutex
		var got []string
		cancelB, err := p.b.OnChange(func(key string) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, key)
		})
		require.NoError(err)
		defer cancelB()
		var own int32
		cancelA, err := p.a.OnChange(func(string) { atomic.AddInt32(&own, 1) })
		require.NoError(err)
		defer cancelA()

		received := func(n int) func() bool {
			return func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(got) == n
			}
		}

		require.NoError(p.a.Save(ctx, full))
		if p.tick != nil {
			p.tick()
		}
		require.Eventually(received(1), time.Second, 10*time.Millisecond)

		require.NoError(p.a.Clear(ctx))
		if p.tick != nil {
			p.tick()
		}
		require.Eventually(received(2), time.Second, 10*time.Millisecond)

		mu.Lock()
		for _, k := range got {
			assert.Equal(IdTokenKey, k)
		}
		mu.Unlock()
		assert.Never(func() bool { return atomic.LoadInt32(&own) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	})
	t.Run("on-change-nil", func(t *testing.T) {
		require := require.New(t)
		p := newPair(t)
		_, err := p.a.OnChange(nil)
		require.ErrorIs(err, ErrNilParameter)
	})
}

func TestNewKeys(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal(Keys{
		AccessToken:  "CognitoAccessToken",
		IdToken:      "CognitoIdToken",
		RefreshToken: "CognitoRefreshToken",
	}, NewKeys(""))
	assert.Equal([]string{"app1.CognitoAccessToken", "app1.CognitoIdToken", "app1.CognitoRefreshToken"}, NewKeys("app1.").All())
}
