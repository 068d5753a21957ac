// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/cap-session/cognito"
)

// MemoryBackend is storage shared by the Memory stores created from it.  It's
// the in-process equivalent of a browser's localStorage shared by its tabs.
type MemoryBackend struct {
	mu    sync.Mutex
	data  map[string]string
	views map[*Memory]struct{}
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:  map[string]string{},
		views: map[*Memory]struct{}{},
	}
}

// Store returns a new context's view of the backend.
// Supported options:
//   - WithKeyPrefix
func (b *MemoryBackend) Store(opt ...Option) *Memory {
	opts := getOpts(opt...)
	m := &Memory{
		backend: b,
		keys:    NewKeys(opts.withKeyPrefix),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.views[m] = struct{}{}
	return m
}

// Get returns the raw value of key.
func (b *MemoryBackend) Get(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok
}

// Memory is one context's view of a MemoryBackend.  Listeners of the other
// views are called synchronously, in the writer's goroutine, after the write
// completes.
type Memory struct {
	backend   *MemoryBackend
	keys      Keys
	listeners listeners
}

var _ Store = (*Memory)(nil)

// NewMemory returns a view of a new, unshared MemoryBackend.
// Supported options:
//   - WithKeyPrefix
func NewMemory(opt ...Option) *Memory {
	return NewMemoryBackend().Store(opt...)
}

// Save implements Store.Save.
func (m *Memory) Save(_ context.Context, tokens cognito.Tokens) error {
	b := m.backend
	b.mu.Lock()
	delete(b.data, m.keys.IdToken)
	for k, v := range m.keys.values(tokens) {
		b.data[k] = v
	}
	others := b.othersLocked(m)
	b.mu.Unlock()

	for _, o := range others {
		o.listeners.emit(m.keys.IdToken)
	}
	return nil
}

// Load implements Store.Load.
func (m *Memory) Load(_ context.Context) (*cognito.Tokens, error) {
	const op = "Memory.Load"
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := m.keys.tokens(func(key string) (string, bool) {
		v, ok := b.data[key]
		return v, ok
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// Clear implements Store.Clear.
func (m *Memory) Clear(_ context.Context) error {
	b := m.backend
	b.mu.Lock()
	_, hadId := b.data[m.keys.IdToken]
	for _, k := range m.keys.All() {
		delete(b.data, k)
	}
	others := b.othersLocked(m)
	b.mu.Unlock()

	if hadId {
		for _, o := range others {
			o.listeners.emit(m.keys.IdToken)
		}
	}
	return nil
}

// OnChange implements Store.OnChange.
func (m *Memory) OnChange(fn func(key string)) (func(), error) {
	const op = "Memory.OnChange"
	cancel, err := m.listeners.add(fn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cancel, nil
}

// Close detaches the view from its backend.  Its listeners are no longer
// called and the backend's data is left as is.
func (m *Memory) Close() error {
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.views, m)
	return nil
}

// othersLocked returns the views sharing m's keys, excluding m.
func (b *MemoryBackend) othersLocked(m *Memory) []*Memory {
	others := make([]*Memory, 0, len(b.views))
	for v := range b.views {
		if v != m && v.keys == m.keys {
			others = append(others, v)
		}
	}
	return others
}
