// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"

	"github.com/hashicorp/cap-session/cognito"
)

const (
	AccessTokenKey  = "CognitoAccessToken"
	IdTokenKey      = "CognitoIdToken"
	RefreshTokenKey = "CognitoRefreshToken"
)

// Store persists a session's token triple under three string keys.
//
// A Store is one context's view of storage that may be shared with other
// contexts (browser tabs, processes or hosts).  OnChange reports writes to the
// id token key made by other contexts; a view never reports its own writes.
type Store interface {
	// Save writes the non-empty tokens.  The id token key is always deleted
	// before it is set, so other contexts see a change event even when the
	// value is unchanged.
	Save(ctx context.Context, tokens cognito.Tokens) error

	// Load returns the stored tokens, or ErrNotFound when any of the three
	// keys is missing.
	Load(ctx context.Context) (*cognito.Tokens, error)

	// Clear removes all three keys.
	Clear(ctx context.Context) error

	// OnChange registers fn to be called with the changed key when another
	// context writes or removes the id token key.  The returned cancel func
	// unregisters fn.
	OnChange(fn func(key string)) (cancel func(), err error)
}

// Keys are the storage keys of the token triple.
type Keys struct {
	AccessToken  string
	IdToken      string
	RefreshToken string
}

// NewKeys returns the keys with the optional prefix prepended.
func NewKeys(prefix string) Keys {
	return Keys{
		AccessToken:  prefix + AccessTokenKey,
		IdToken:      prefix + IdTokenKey,
		RefreshToken: prefix + RefreshTokenKey,
	}
}

// All returns the keys in access, id, refresh order.
func (k Keys) All() []string {
	return []string{k.AccessToken, k.IdToken, k.RefreshToken}
}

// values returns the key/value pairs of the non-empty tokens.
func (k Keys) values(t cognito.Tokens) map[string]string {
	m := make(map[string]string, 3)
	if t.AccessToken != "" {
		m[k.AccessToken] = string(t.AccessToken)
	}
	if t.IdToken != "" {
		m[k.IdToken] = string(t.IdToken)
	}
	if t.RefreshToken != "" {
		m[k.RefreshToken] = string(t.RefreshToken)
	}
	return m
}

// tokens builds the triple from a lookup func, returning ErrNotFound when any
// key is missing.
func (k Keys) tokens(lookup func(key string) (string, bool)) (*cognito.Tokens, error) {
	at, ok := lookup(k.AccessToken)
	if !ok {
		return nil, ErrNotFound
	}
	it, ok := lookup(k.IdToken)
	if !ok {
		return nil, ErrNotFound
	}
	rt, ok := lookup(k.RefreshToken)
	if !ok {
		return nil, ErrNotFound
	}
	return &cognito.Tokens{
		AccessToken:  cognito.AccessToken(at),
		IdToken:      cognito.IdToken(it),
		RefreshToken: cognito.RefreshToken(rt),
	}, nil
}
