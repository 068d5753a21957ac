// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/cap-session/cognito"
	"github.com/hashicorp/cap-session/store"
)

// testObserver creates an Observer for the provider which is released when
// the test completes.
func testObserver(t *testing.T, c *cognito.Config, st store.Store, opt ...Option) *Observer {
	t.Helper()
	o, err := New(c, st, opt...)
	require.NoError(t, err)
	t.Cleanup(o.Done)
	return o
}

// testStoredTokens returns a valid token triple minted by the provider.
func testStoredTokens(t *testing.T, tp *cognito.TestProvider) cognito.Tokens {
	t.Helper()
	return cognito.Tokens{
		AccessToken:  cognito.AccessToken(tp.AccessToken(nil)),
		IdToken:      cognito.IdToken(tp.IdToken(nil)),
		RefreshToken: "test-refresh-token",
	}
}

// testSeededStore returns a memory store holding tks.
func testSeededStore(t *testing.T, tks cognito.Tokens) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	require.NoError(t, st.Save(context.Background(), tks))
	return st
}

// recorder records token update notifications.
type recorder struct {
	mu  sync.Mutex
	got []bool
}

func (r *recorder) callback(isValid bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, isValid)
}

func (r *recorder) calls() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.got...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}
