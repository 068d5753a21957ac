// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultAttemptBudget is the number of consecutive failed scheduled
	// refreshes after which the session is cleared.
	DefaultAttemptBudget = 5

	// DefaultMinInterval is the shortest delay between scheduler ticks, and
	// the first delay after a failed refresh.
	DefaultMinInterval = 2 * time.Second

	// DefaultMaxInterval is the longest delay between scheduler ticks.
	DefaultMaxInterval = time.Hour

	// DefaultMaxRetryInterval caps the delay between failed refreshes.
	DefaultMaxRetryInterval = 10 * time.Second
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// observerOptions is the set of available options for New
type observerOptions struct {
	withLogger           hclog.Logger
	withClock            clockwork.Clock
	withAttemptBudget    int
	withMinInterval      time.Duration
	withMaxInterval      time.Duration
	withMaxRetryInterval time.Duration
	withExpirySkew       time.Duration
	withRegisterer       prometheus.Registerer
}

func observerDefaults() observerOptions {
	return observerOptions{
		withLogger:           hclog.NewNullLogger(),
		withClock:            clockwork.NewRealClock(),
		withAttemptBudget:    DefaultAttemptBudget,
		withMinInterval:      DefaultMinInterval,
		withMaxInterval:      DefaultMaxInterval,
		withMaxRetryInterval: DefaultMaxRetryInterval,
	}
}

func getObserverOpts(opt ...Option) observerOptions {
	opts := observerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// subscribeOptions is the set of available options for OnTokenUpdate
type subscribeOptions struct {
	withSubscriberKey string
}

func getSubscribeOpts(opt ...Option) subscribeOptions {
	var opts subscribeOptions
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*observerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithClock provides an optional clock for the scheduler and token
// verification.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*observerOptions); ok && c != nil {
			o.withClock = c
		}
	}
}

// WithAttemptBudget provides an optional number of consecutive failed
// scheduled refreshes tolerated before the session is cleared.
func WithAttemptBudget(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*observerOptions); ok && n > 0 {
			o.withAttemptBudget = n
		}
	}
}

// WithMinInterval provides an optional lower bound for the scheduler's delay.
func WithMinInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*observerOptions); ok && d > 0 {
			o.withMinInterval = d
		}
	}
}

// WithMaxInterval provides an optional upper bound for the scheduler's delay.
func WithMaxInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*observerOptions); ok && d > 0 {
			o.withMaxInterval = d
		}
	}
}

// WithMaxRetryInterval provides an optional upper bound for the delay between
// failed refreshes.
func WithMaxRetryInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*observerOptions); ok && d > 0 {
			o.withMaxRetryInterval = d
		}
	}
}

// WithExpirySkew provides an optional duration before the token's exp at
// which the scheduler treats it as expired and refreshes it.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*observerOptions); ok && d >= 0 {
			o.withExpirySkew = d
		}
	}
}

// WithRegisterer provides an optional prometheus registerer for the session
// metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o interface{}) {
		if o, ok := o.(*observerOptions); ok {
			o.withRegisterer = r
		}
	}
}

// WithSubscriberKey provides an optional key for OnTokenUpdate.  A callback
// registered with the same key as an earlier one replaces it.
func WithSubscriberKey(k string) Option {
	return func(o interface{}) {
		if o, ok := o.(*subscribeOptions); ok {
			o.withSubscriberKey = k
		}
	}
}
