// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

// State of an Observer's session.
type State int

const (
	// StateEmpty means no tokens are held.
	StateEmpty State = iota

	// StateLoadedUnverified means tokens were loaded from the store but
	// haven't been verified yet.
	StateLoadedUnverified

	// StateValid means the id token was verified.
	StateValid

	// StateRefreshing means a refresh grant is in flight.
	StateRefreshing

	// StateExpiredPendingRefresh means the tokens expired, or failed
	// verification, and a refresh is due.
	StateExpiredPendingRefresh

	// StateCleared means the tokens were wiped.  A new code exchange, or
	// tokens saved by another context, leave it.
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoadedUnverified:
		return "loaded_unverified"
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	case StateExpiredPendingRefresh:
		return "expired_pending_refresh"
	case StateCleared:
		return "cleared"
	default:
		return "unknown"
	}
}
