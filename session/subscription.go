// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

// Subscription is a callback registered with OnTokenUpdate.
type Subscription struct {
	id       string
	key      string
	observer *Observer
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Unsubscribe removes the callback.  It's a no-op when the callback was
// already removed or replaced by another registered with the same key.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.observer == nil {
		return
	}
	s.observer.unsubscribe(s.id)
}

type subscriber struct {
	id  string
	key string
	fn  func(isValid bool)
}
