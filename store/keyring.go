// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/zalando/go-keyring"

	"github.com/hashicorp/cap-session/cognito"
)

// keyringMu serializes keyring access within the process.  Not every keyring
// provider is safe for concurrent use.
var keyringMu sync.Mutex

// Keyring stores tokens in the operating system's keyring, one secret per key
// under the service name.  The keyring has no change notification, so
// OnChange polls the id token key.
type Keyring struct {
	service string
	keys    Keys
	poller  *poller
	logger  hclog.Logger
}

var _ Store = (*Keyring)(nil)

// NewKeyring creates a Keyring store for the service.
// Supported options:
//   - WithKeyPrefix
//   - WithLogger
//   - WithClock
//   - WithPollInterval
func NewKeyring(service string, opt ...Option) (*Keyring, error) {
	const op = "store.NewKeyring"
	if service == "" {
		return nil, fmt.Errorf("%s: service is empty: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	k := &Keyring{
		service: service,
		keys:    NewKeys(opts.withKeyPrefix),
		logger:  opts.withLogger.Named("keyring"),
	}
	k.poller = newPoller(k.keys.IdToken, func(context.Context) (string, error) {
		return k.get(k.keys.IdToken)
	}, opts)
	return k, nil
}

// get returns the value of key, or "" when it's not set.
func (k *Keyring) get(key string) (string, error) {
	keyringMu.Lock()
	defer keyringMu.Unlock()
	v, err := keyring.Get(k.service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", nil
	case err != nil:
		return "", err
	}
	return v, nil
}

func (k *Keyring) delete(key string) error {
	keyringMu.Lock()
	defer keyringMu.Unlock()
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

func (k *Keyring) set(key, v string) error {
	keyringMu.Lock()
	defer keyringMu.Unlock()
	return keyring.Set(k.service, key, v)
}

// Save implements Store.Save.
func (k *Keyring) Save(_ context.Context, tokens cognito.Tokens) error {
	const op = "Keyring.Save"
	vals := k.keys.values(tokens)
	err := k.poller.write(vals[k.keys.IdToken], func() error {
		if err := k.delete(k.keys.IdToken); err != nil {
			return err
		}
		for _, key := range k.keys.All() {
			v, ok := vals[key]
			if !ok {
				continue
			}
			if err := k.set(key, v); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Load implements Store.Load.
func (k *Keyring) Load(_ context.Context) (*cognito.Tokens, error) {
	const op = "Keyring.Load"
	m := map[string]string{}
	for _, key := range k.keys.All() {
		v, err := k.get(key)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, key, err)
		}
		if v != "" {
			m[key] = v
		}
	}
	t, err := k.keys.tokens(func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// Clear implements Store.Clear.  It attempts to remove every key, even when
// removing one fails.
func (k *Keyring) Clear(_ context.Context) error {
	const op = "Keyring.Clear"
	err := k.poller.write("", func() error {
		var result *multierror.Error
		for _, key := range k.keys.All() {
			if err := k.delete(key); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
			}
		}
		return result.ErrorOrNil()
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// OnChange implements Store.OnChange.
func (k *Keyring) OnChange(fn func(key string)) (func(), error) {
	const op = "Keyring.OnChange"
	cancel, err := k.poller.add(fn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cancel, nil
}
