// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrMissingClaim      = errors.New("missing claim")
	ErrExpiredToken      = errors.New("token is expired")
	ErrNotYetValid       = errors.New("token is not yet valid")
	ErrInvalidIssuer     = errors.New("invalid issuer")
	ErrInvalidSubject    = errors.New("invalid subject")
	ErrInvalidAudience   = errors.New("invalid audience")
	ErrInvalidClientID   = errors.New("invalid client_id")
	ErrInvalidTokenUse   = errors.New("invalid token_use")
	ErrInvalidSigningAlg = errors.New("invalid signing algorithm")
)
