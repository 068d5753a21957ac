// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "github.com/jonboulle/clockwork"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type validatorOptions struct {
	withClock clockwork.Clock
}

func validatorDefaults() validatorOptions {
	return validatorOptions{
		withClock: clockwork.NewRealClock(),
	}
}

// getValidatorOpts gets the defaults and applies the opt overrides passed
// in.
func getValidatorOpts(opt ...Option) validatorOptions {
	opts := validatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

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

// WithClock provides an optional clock used to evaluate the time based
// claims (exp, nbf).
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if v, ok := o.(*validatorOptions); ok && c != nil {
			v.withClock = c
		}
	}
}
