// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cognito

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/cap-session/jwt"
)

// Verifier verifies tokens issued by the user pool: the signature (using the
// pool's JSON Web Key Set), expiry, issuer, token_use and the app client.
type Verifier struct {
	config    *Config
	validator *jwt.Validator
	logger    hclog.Logger
}

// NewVerifier creates a Verifier which fetches the pool's signing keys from
// its JWKS url.  The keys are cached and refetched when a token is signed by
// an unknown key.  The ctx is used for the key fetches and should live as long
// as the Verifier.  A config with PublicKeys verifies against those keys
// only.
// Supported options:
//   - WithLogger
//   - WithClock
func NewVerifier(ctx context.Context, c *Config, opt ...Option) (*Verifier, error) {
	const op = "cognito.NewVerifier"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var ks jwt.KeySet
	var err error
	switch {
	case len(c.PublicKeys) > 0:
		ks, err = jwt.NewStaticKeySet(c.PublicKeys)
	default:
		ks, err = jwt.NewJSONWebKeySet(ctx, c.JWKSURL(), c.ProviderCA)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create key set: %w", op, err)
	}
	return NewVerifierWithKeySet(c, ks, opt...)
}

// NewVerifierWithKeySet creates a Verifier which uses the given KeySet to
// verify signatures.
// Supported options:
//   - WithLogger
//   - WithClock
func NewVerifierWithKeySet(c *Config, ks jwt.KeySet, opt ...Option) (*Verifier, error) {
	const op = "cognito.NewVerifierWithKeySet"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: config is invalid: %w", op, err)
	}
	opts := getClientOpts(opt...)
	validator, err := jwt.NewValidator(ks, jwt.WithClock(opts.withClock))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create validator: %w", op, err)
	}
	return &Verifier{
		config:    c,
		validator: validator,
		logger:    opts.withLogger,
	}, nil
}

// Verify the token for the given use and return its claims.  A token is valid
// when its signature verifies, its exp is strictly after now, its iss is the
// pool's issuer, its token_use equals use and it was issued to the config's
// app client.
func (v *Verifier) Verify(ctx context.Context, token string, use TokenUse) (Claims, error) {
	const op = "Verifier.Verify"
	expected := jwt.Expected{
		Issuer:            v.config.Issuer(),
		TokenUse:          string(use),
		SigningAlgorithms: []jwt.Alg{jwt.RS256},
	}
	switch use {
	case TokenUseId:
		expected.Audiences = []string{v.config.ClientId}
	case TokenUseAccess:
		expected.ClientID = v.config.ClientId
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, use, ErrInvalidTokenUse)
	}
	claims, err := v.validator.Validate(ctx, token, expected)
	if err != nil {
		v.logger.Debug("token is not valid", "use", use, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return Claims(claims), nil
}
