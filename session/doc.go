// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package session manages the lifecycle of a user pool session: it exchanges an
authorization code for tokens, persists them in a store.Store, verifies and
refreshes them before they expire, and notifies subscribers when the session's
validity changes.

An Observer is created once per user pool app client and passed to the code
that needs it.  Its state moves through:

	empty -> loaded_unverified -> valid <-> refreshing
	                                 |
	                    expired_pending_refresh -> cleared

A scheduler checks the id token's exp and refreshes expired tokens.  After a
number of consecutive failed refreshes (see WithAttemptBudget) the session is
cleared and a new login is required.

Stores shared by several contexts (processes, tabs or hosts) report each
other's writes; an Observer adopts tokens saved by another context and
notifies its subscribers, unless they were already notified of the same
access token.

Example:

	ctx := context.Background()
	pc, err := cognito.NewConfig(clientId, poolDomain, redirectUrl, region, userPoolId)
	if err != nil {
		// handle error
	}
	o, err := session.New(pc, store.NewMemory(), session.WithLogger(hclog.Default()))
	if err != nil {
		// handle error
	}
	defer o.Done()

	sub := o.OnTokenUpdate(func(isValid bool) {
		fmt.Println("session valid:", isValid)
	})
	defer sub.Unsubscribe()

	// code is the authorization code received on the redirect url
	o.Init(ctx, code)
*/
package session
