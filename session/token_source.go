// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource of the session's access token,
// for use with oauth2.NewClient.  It never refreshes; the Observer's
// scheduler does.
func (o *Observer) TokenSource() oauth2.TokenSource {
	return &tokenSource{observer: o}
}

type tokenSource struct {
	observer *Observer
}

// Token implements oauth2.TokenSource.  It returns ErrNotActive when the
// session isn't valid or its token has expired.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	const op = "tokenSource.Token"
	o := ts.observer
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.isValid || o.tokens.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotActive)
	}
	expiry := time.Unix(o.claims.Exp(), 0)
	if !expiry.After(o.clock.Now()) {
		return nil, fmt.Errorf("%s: token expired: %w", op, ErrNotActive)
	}
	return &oauth2.Token{
		AccessToken: string(o.tokens.AccessToken),
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}
