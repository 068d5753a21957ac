// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultPollInterval is how often the Keyring and File stores check for
	// changes made by other contexts.
	DefaultPollInterval = 2 * time.Second

	// DefaultLockTimeout bounds how long the File store waits for its lock.
	DefaultLockTimeout = 5 * time.Second

	defaultChannel = "changes"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// options is the set of available options for the stores
type options struct {
	withKeyPrefix    string
	withLogger       hclog.Logger
	withClock        clockwork.Clock
	withPollInterval time.Duration
	withLockTimeout  time.Duration
	withChannel      string
}

func getDefaults() options {
	return options{
		withLogger:       hclog.NewNullLogger(),
		withClock:        clockwork.NewRealClock(),
		withPollInterval: DefaultPollInterval,
		withLockTimeout:  DefaultLockTimeout,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithKeyPrefix provides an optional namespace prepended to every key, which
// lets multiple sessions share one storage.
func WithKeyPrefix(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withKeyPrefix = p
		}
	}
}

// WithLogger provides an optional logger
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithClock provides an optional clock for polling stores
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && c != nil {
			o.withClock = c
		}
	}
}

// WithPollInterval provides an optional interval for polling stores
func WithPollInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withPollInterval = d
		}
	}
}

// WithLockTimeout provides an optional timeout for acquiring the File store's
// lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withLockTimeout = d
		}
	}
}

// WithChannel provides an optional pub/sub channel name for the Redis store.
// It defaults to the key prefix followed by "changes".
func WithChannel(c string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withChannel = c
		}
	}
}
