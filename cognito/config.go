// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cognito

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	sdkHttp "github.com/hashicorp/cap-session/sdk/http"
)

const (
	// DefaultIssuerBaseURLFmt is the issuer base for a region.  The issuer of a
	// pool's tokens is the base followed by "/<userPoolId>".
	DefaultIssuerBaseURLFmt = "https://cognito-idp.%s.amazonaws.com"

	tokenPath     = "/oauth2/token"
	loginPath     = "/login"
	logoutPath    = "/logout"
	wellKnownJWKS = "/.well-known/jwks.json"
)

// Config represents the configuration of a relying party using a hosted user
// pool via the authorization code flow.  All of ClientId, PoolDomain,
// RedirectUrl, Region and UserPoolId are required.
type Config struct {
	// ClientId is the app client id registered with the user pool.
	ClientId string

	// PoolDomain is the base url of the pool's hosted domain, which serves the
	// /login, /logout and /oauth2/token endpoints.
	PoolDomain string

	// RedirectUrl is the callback url registered for the app client.
	RedirectUrl string

	// Region of the user pool (eu-west-1).
	Region string

	// UserPoolId of the user pool (eu-west-1_ABC).
	UserPoolId string

	// Scopes is an optional list of scopes to request on the hosted login
	// page.  When empty the app client's default scopes are used.
	Scopes []string

	// IssuerBaseURL optionally overrides the regional issuer base.  It's
	// useful for testing and for pool compatible providers.
	IssuerBaseURL string

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// PublicKeys optionally pins the PEM encoded keys used to verify token
	// signatures.  When set, the pool's JWKS is never fetched.
	PublicKeys []string
}

// NewConfig composes a new config for a user pool app client.
// Supported options:
//   - WithScopes
//   - WithIssuerBaseURL
//   - WithProviderCA
//   - WithPublicKeys
func NewConfig(clientId, poolDomain, redirectUrl, region, userPoolId string, opt ...Option) (*Config, error) {
	const op = "cognito.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientId:      clientId,
		PoolDomain:    strings.TrimSuffix(poolDomain, "/"),
		RedirectUrl:   redirectUrl,
		Region:        region,
		UserPoolId:    userPoolId,
		Scopes:        opts.withScopes,
		IssuerBaseURL: strings.TrimSuffix(opts.withIssuerBaseURL, "/"),
		ProviderCA:    opts.withProviderCA,
		PublicKeys:    opts.withPublicKeys,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the configuration.  It verifies every required value is present
// and the urls are http or https urls, but it doesn't make any requests to
// the provider.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientId == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.PoolDomain == "" {
		return fmt.Errorf("%s: pool domain is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectUrl == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if c.Region == "" {
		return fmt.Errorf("%s: region is empty: %w", op, ErrInvalidParameter)
	}
	if c.UserPoolId == "" {
		return fmt.Errorf("%s: user pool id is empty: %w", op, ErrInvalidParameter)
	}
	for name, u := range map[string]string{
		"pool domain":     c.PoolDomain,
		"redirect URL":    c.RedirectUrl,
		"issuer base URL": c.IssuerBaseURL,
	} {
		if u == "" {
			continue
		}
		parsed, err := url.Parse(u)
		if err != nil {
			return fmt.Errorf("%s: %s %q is invalid: %w", op, name, u, ErrInvalidParameter)
		}
		if parsed.Scheme != "https" && parsed.Scheme != "http" {
			return fmt.Errorf("%s: %s %q scheme is not http or https: %w", op, name, u, ErrInvalidParameter)
		}
	}
	return nil
}

// Issuer returns the expected iss claim of tokens issued by the user pool.
func (c *Config) Issuer() string {
	base := c.IssuerBaseURL
	if base == "" {
		base = fmt.Sprintf(DefaultIssuerBaseURLFmt, c.Region)
	}
	return base + "/" + c.UserPoolId
}

// JWKSURL returns the url of the user pool's JSON Web Key Set.
func (c *Config) JWKSURL() string {
	return c.Issuer() + wellKnownJWKS
}

// TokenURL returns the url of the pool domain's token endpoint.
func (c *Config) TokenURL() string {
	return c.PoolDomain + tokenPath
}

// AuthURL returns the hosted login page url which starts an authorization
// code flow and redirects back to the RedirectUrl with a code.
func (c *Config) AuthURL() string {
	v := url.Values{}
	v.Set("client_id", c.ClientId)
	v.Set("response_type", "code")
	v.Set("redirect_uri", c.RedirectUrl)
	if len(c.Scopes) > 0 {
		v.Set("scope", strings.Join(c.Scopes, " "))
	}
	return c.PoolDomain + loginPath + "?" + v.Encode()
}

// LogoutURL returns the hosted logout url which ends the user's hosted
// session and redirects to logoutUri.
func (c *Config) LogoutURL(logoutUri string) string {
	v := url.Values{}
	v.Set("client_id", c.ClientId)
	v.Set("logout_uri", logoutUri)
	return c.PoolDomain + logoutPath + "?" + v.Encode()
}

// HttpClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	client, err := sdkHttp.NewClient(c.ProviderCA)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}
