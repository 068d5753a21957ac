// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package jwt validates JSON Web Tokens issued by an identity provider.  A
// Validator checks the signature using a KeySet and then asserts the
// registered claims (exp, nbf, iss, sub, aud) and the provider specific
// token_use and client_id claims against an Expected set of values.
package jwt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/jonboulle/clockwork"
)

// Claim names asserted by the Validator.
const (
	ClaimExp      = "exp"
	ClaimNbf      = "nbf"
	ClaimIss      = "iss"
	ClaimSub      = "sub"
	ClaimAud      = "aud"
	ClaimClientID = "client_id"
	ClaimTokenUse = "token_use"
)

// Validator validates JSON Web Tokens (JWT) by providing signature
// verification and claims set validation.
type Validator struct {
	keySet KeySet
	clock  clockwork.Clock
}

// NewValidator returns a Validator that uses the given KeySet to verify JWT signatures.
// Supported options:
//   - WithClock
func NewValidator(keySet KeySet, opt ...Option) (*Validator, error) {
	const op = "jwt.NewValidator"
	if keySet == nil {
		return nil, fmt.Errorf("%s: keySet must not be nil: %w", op, ErrNilParameter)
	}
	opts := getValidatorOpts(opt...)
	return &Validator{
		keySet: keySet,
		clock:  opts.withClock,
	}, nil
}

// Expected defines the expected claims values to assert when validating a JWT.
// For claims that have an empty value in Expected, validation of the claim will
// be skipped.  The exp claim is always required and must be strictly after the
// current time.
type Expected struct {
	// Issuer must be an exact match of the iss claim.
	Issuer string

	// Subject must be an exact match of the sub claim.
	Subject string

	// Audiences must contain at least one of the values in the aud claim.
	Audiences []string

	// ClientID must be an exact match of the client_id claim.  Access tokens
	// issued by some providers carry the client_id instead of an aud claim.
	ClientID string

	// TokenUse must be an exact match of the token_use claim ("id" or
	// "access").
	TokenUse string

	// SigningAlgorithms provides the list of expected JWS "alg" header
	// parameter values. Defaults to RS256.
	SigningAlgorithms []Alg
}

// Validate validates JWTs of the JWS compact serialization form.
//
// The validation steps are:
//  1. verify the signature using the validator's KeySet
//  2. verify the "alg" header against Expected.SigningAlgorithms
//  3. verify the time based claims (exp required, nbf when present)
//  4. assert iss, sub, aud, client_id and token_use against Expected
//
// All claims in the JWT payload are returned on success.
func (v *Validator) Validate(ctx context.Context, token string, expected Expected) (map[string]interface{}, error) {
	const op = "Validator.Validate"
	if token == "" {
		return nil, fmt.Errorf("%s: token must not be empty: %w", op, ErrInvalidParameter)
	}
	if err := SupportedSigningAlgorithm(expected.SigningAlgorithms...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := v.keySet.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := validateSigningAlgorithm(token, expected.SigningAlgorithms); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := v.clock.Now().Unix()
	exp, ok := NumericClaim(claims, ClaimExp)
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", op, ClaimExp, ErrMissingClaim)
	}
	if exp <= now {
		return nil, fmt.Errorf("%s: expired at %d: %w", op, exp, ErrExpiredToken)
	}
	if nbf, ok := NumericClaim(claims, ClaimNbf); ok && now < nbf {
		return nil, fmt.Errorf("%s: not valid before %d: %w", op, nbf, ErrNotYetValid)
	}

	if expected.Issuer != "" && stringClaim(claims, ClaimIss) != expected.Issuer {
		return nil, fmt.Errorf("%s: %q: %w", op, stringClaim(claims, ClaimIss), ErrInvalidIssuer)
	}
	if expected.Subject != "" && stringClaim(claims, ClaimSub) != expected.Subject {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSubject)
	}
	if len(expected.Audiences) > 0 {
		if err := validateAudience(expected.Audiences, claims[ClaimAud]); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if expected.ClientID != "" && stringClaim(claims, ClaimClientID) != expected.ClientID {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidClientID)
	}
	if expected.TokenUse != "" && stringClaim(claims, ClaimTokenUse) != expected.TokenUse {
		return nil, fmt.Errorf("%s: %q: %w", op, stringClaim(claims, ClaimTokenUse), ErrInvalidTokenUse)
	}
	return claims, nil
}

// NumericClaim returns the named claim as seconds since the epoch.  Claims
// decoded from JSON are float64 or json.Number; integer types are accepted
// for claims built in memory.
func NumericClaim(claims map[string]interface{}, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, err := v.Float64()
			if err != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	default:
		return 0, false
	}
}

func stringClaim(claims map[string]interface{}, name string) string {
	s, _ := claims[name].(string)
	return s
}

// validateAudience returns an error if audClaim does not contain any audiences
// given by expectedAudiences.
func validateAudience(expectedAudiences []string, audClaim interface{}) error {
	var audiences []string
	switch v := audClaim.(type) {
	case string:
		audiences = []string{v}
	case []interface{}:
		for _, a := range v {
			if s, ok := a.(string); ok {
				audiences = append(audiences, s)
			}
		}
	case []string:
		audiences = v
	}
	for _, e := range expectedAudiences {
		for _, a := range audiences {
			if e == a {
				return nil
			}
		}
	}
	return fmt.Errorf("audience claim does not match any expected audience: %w", ErrInvalidAudience)
}

// validateSigningAlgorithm checks whether the JWS "alg" header parameter value
// for the given JWT matches any given in expectedAlgorithms. If
// expectedAlgorithms is empty, RS256 will be expected by default.
func validateSigningAlgorithm(token string, expectedAlgorithms []Alg) error {
	if len(expectedAlgorithms) == 0 {
		expectedAlgorithms = []Alg{RS256}
	}
	jws, err := jose.ParseSigned(token, joseAlgorithms(expectedAlgorithms...))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSigningAlg, err)
	}
	if len(jws.Signatures) != 1 {
		return fmt.Errorf("token must have exactly one signature: %w", ErrInvalidSigningAlg)
	}
	return nil
}
