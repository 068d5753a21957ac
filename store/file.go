// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/cap-session/cognito"
)

const lockRetryDelay = 50 * time.Millisecond

// File stores tokens as a JSON object in a file readable only by its owner.
// Writes take an exclusive lock on a separate lock file and replace the file
// atomically, so several processes can share it.  OnChange polls the id token
// key.
type File struct {
	path string

	// mu serializes use of lock, which is shared by the File's goroutines.
	mu          sync.Mutex
	lock        *flock.Flock
	lockTimeout time.Duration
	keys        Keys
	poller      *poller
	logger      hclog.Logger
}

var _ Store = (*File)(nil)

// NewFile creates a File store at path.  The file is created on the first
// Save.
// Supported options:
//   - WithKeyPrefix
//   - WithLogger
//   - WithClock
//   - WithPollInterval
//   - WithLockTimeout
func NewFile(path string, opt ...Option) (*File, error) {
	const op = "store.NewFile"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	f := &File{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: opts.withLockTimeout,
		keys:        NewKeys(opts.withKeyPrefix),
		logger:      opts.withLogger.Named("file"),
	}
	f.poller = newPoller(f.keys.IdToken, func(ctx context.Context) (string, error) {
		m, err := f.locked(ctx, false, f.read)
		if err != nil {
			return "", err
		}
		return m[f.keys.IdToken], nil
	}, opts)
	return f, nil
}

// locked runs fn holding the file lock.  A shared lock is taken unless
// exclusive is set.
func (f *File) locked(ctx context.Context, exclusive bool, fn func() (map[string]string, error)) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, f.lockTimeout)
	defer cancel()

	var ok bool
	var err error
	if exclusive {
		ok, err = f.lock.TryLockContext(lockCtx, lockRetryDelay)
	} else {
		ok, err = f.lock.TryRLockContext(lockCtx, lockRetryDelay)
	}
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %s", ErrLockTimeout, f.lockTimeout)
	case err != nil:
		return nil, fmt.Errorf("unable to acquire lock: %w", err)
	case !ok:
		return nil, fmt.Errorf("%w after %s", ErrLockTimeout, f.lockTimeout)
	}
	defer func() {
		if err := f.lock.Unlock(); err != nil {
			f.logger.Warn("unable to release lock", "path", f.lock.Path(), "error", err)
		}
	}()
	return fn()
}

// read returns the stored key/values; a missing file is empty.
func (f *File) read() (map[string]string, error) {
	m := map[string]string{}
	b, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return m, nil
	case err != nil:
		return nil, fmt.Errorf("unable to read %s: %w", f.path, err)
	}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", f.path, err)
	}
	return m, nil
}

// write replaces the file with m via a temp file and rename.
func (f *File) write(m map[string]string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("unable to encode tokens: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("unable to set file mode: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("unable to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("unable to replace %s: %w", f.path, err)
	}
	return nil
}

// update applies fn to the stored key/values under the exclusive lock.
func (f *File) update(ctx context.Context, fn func(m map[string]string)) error {
	_, err := f.locked(ctx, true, func() (map[string]string, error) {
		m, err := f.read()
		if err != nil {
			return nil, err
		}
		fn(m)
		return nil, f.write(m)
	})
	return err
}

// Save implements Store.Save.
func (f *File) Save(ctx context.Context, tokens cognito.Tokens) error {
	const op = "File.Save"
	vals := f.keys.values(tokens)
	err := f.poller.write(vals[f.keys.IdToken], func() error {
		return f.update(ctx, func(m map[string]string) {
			delete(m, f.keys.IdToken)
			for k, v := range vals {
				m[k] = v
			}
		})
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Load implements Store.Load.
func (f *File) Load(ctx context.Context) (*cognito.Tokens, error) {
	const op = "File.Load"
	m, err := f.locked(ctx, false, f.read)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t, err := f.keys.tokens(func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// Clear implements Store.Clear.
func (f *File) Clear(ctx context.Context) error {
	const op = "File.Clear"
	err := f.poller.write("", func() error {
		return f.update(ctx, func(m map[string]string) {
			for _, k := range f.keys.All() {
				delete(m, k)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// OnChange implements Store.OnChange.
func (f *File) OnChange(fn func(key string)) (func(), error) {
	const op = "File.OnChange"
	cancel, err := f.poller.add(fn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cancel, nil
}
