// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cognito

import (
	"github.com/hashicorp/cap-session/jwt"
)

// TokenUse is the value of the token_use claim of a pool issued token.
type TokenUse string

const (
	TokenUseId     TokenUse = "id"
	TokenUseAccess TokenUse = "access"
)

// Tokens is the token triple issued by the pool's token endpoint.  Responses
// to a refresh grant typically don't include a RefreshToken.
type Tokens struct {
	AccessToken  AccessToken
	IdToken      IdToken
	RefreshToken RefreshToken
}

// Complete returns true when all three tokens are present.
func (t *Tokens) Complete() bool {
	return t != nil && t.AccessToken != "" && t.IdToken != "" && t.RefreshToken != ""
}

// Claims are the decoded claims of a verified token.  Every Claims value
// carries at least an "exp" claim; an exp of 0 means no valid claims are known.
type Claims map[string]interface{}

// EmptyClaims returns the claims used when no token has been verified.
func EmptyClaims() Claims {
	return Claims{jwt.ClaimExp: int64(0)}
}

// Exp returns the exp claim in seconds since the epoch, or 0 when it's
// missing.
func (c Claims) Exp() int64 {
	exp, _ := jwt.NumericClaim(c, jwt.ClaimExp)
	return exp
}

// Subject returns the sub claim.
func (c Claims) Subject() string {
	s, _ := c[jwt.ClaimSub].(string)
	return s
}

// Clone returns a shallow copy of the claims.
func (c Claims) Clone() Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
