// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package cognito integrates with an Amazon Cognito style hosted identity provider
using the OAuth2 authorization code flow.

It provides the building blocks a session needs:

  - Config: the client id, pool domain, redirect url, region and user pool id
    of a relying party, plus the urls derived from them (token endpoint,
    issuer, JWKS, hosted login page).
  - Client: performs the authorization code grant and the refresh token grant
    against the pool's token endpoint and fetches the pool's JSON Web Key Set.
  - Verifier: verifies id and access tokens: signature, expiry, issuer and
    token_use.
  - AccessToken, IdToken, RefreshToken: token types which redact themselves
    when printed or marshaled.
  - TestProvider: an in-process provider for tests.

Example:

	cfg, err := cognito.NewConfig(
		"your_client_id",
		"https://your-domain.auth.eu-west-1.amazoncognito.com",
		"http://localhost:8080/callback",
		"eu-west-1",
		"eu-west-1_ABC",
	)
	if err != nil {
		// handle error
	}
	c, err := cognito.NewClient(cfg)
	if err != nil {
		// handle error
	}
	fmt.Println("open url to kick-off authentication: ", cfg.AuthURL())
	tks, err := c.ExchangeCode(ctx, code)
*/
package cognito
