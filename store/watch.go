// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/hashicorp/cap-session/sdk/id"
)

// listeners is a set of OnChange callbacks.
type listeners struct {
	mu  sync.Mutex
	fns map[string]func(key string)
}

// add registers fn and returns the func that removes it.
func (l *listeners) add(fn func(key string)) (func(), error) {
	const op = "listeners.add"
	if fn == nil {
		return nil, fmt.Errorf("%s: callback is nil: %w", op, ErrNilParameter)
	}
	lid, err := id.New("lsn")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = map[string]func(key string){}
	}
	l.fns[lid] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, lid)
	}, nil
}

func (l *listeners) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// emit calls every registered callback with key.  Callbacks run outside the
// lock, so they may register or cancel listeners.
func (l *listeners) emit(key string) {
	l.mu.Lock()
	fns := make([]func(string), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(key)
	}
}

// poller detects changes to a key for storage without native change
// notification.  It remembers the last value this view wrote or observed and
// emits when a poll reads a different one.
type poller struct {
	key      string
	read     func(ctx context.Context) (string, error)
	clock    clockwork.Clock
	interval time.Duration
	logger   hclog.Logger

	listeners listeners

	mu      sync.Mutex
	known   string
	running bool
	stop    chan struct{}
}

func newPoller(key string, read func(ctx context.Context) (string, error), opts options) *poller {
	return &poller{
		key:      key,
		read:     read,
		clock:    opts.withClock,
		interval: opts.withPollInterval,
		logger:   opts.withLogger.Named("poller"),
	}
}

// write runs a write by this view which leaves v as the key's value.  Polls
// don't run concurrently with it and v is not reported as a change.
func (p *poller) write(v string, fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	p.known = v
	return nil
}

// add registers fn and starts polling when it's the first listener.
func (p *poller) add(fn func(key string)) (func(), error) {
	const op = "poller.add"
	remove, err := p.listeners.add(fn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p.mu.Lock()
	if !p.running {
		cur, err := p.read(context.Background())
		if err != nil {
			p.logger.Warn("unable to read initial value", "key", p.key, "error", err)
		}
		p.known = cur
		p.running = true
		p.stop = make(chan struct{})
		go p.loop(p.stop)
	}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			remove()
			if p.listeners.len() == 0 {
				p.halt()
			}
		})
	}, nil
}

// halt stops polling.  It doesn't wait for the loop, so it's safe to call
// from a listener.
func (p *poller) halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stop)
}

func (p *poller) loop(stop <-chan struct{}) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			p.poll()
		}
	}
}

func (p *poller) poll() {
	p.mu.Lock()
	cur, err := p.read(context.Background())
	if err != nil {
		p.mu.Unlock()
		p.logger.Warn("unable to poll for changes", "key", p.key, "error", err)
		return
	}
	changed := cur != p.known
	p.known = cur
	p.mu.Unlock()
	if changed {
		p.logger.Debug("detected change", "key", p.key)
		p.listeners.emit(p.key)
	}
}
