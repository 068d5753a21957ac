// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cognito

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	sdkHttp "github.com/hashicorp/cap-session/sdk/http"
)

// maxResponseSize bounds the body read from the provider.
const maxResponseSize = 1 << 20

// Client performs the token endpoint grants and key set requests for a user
// pool app client.
type Client struct {
	config *Config
	client *http.Client
	logger hclog.Logger
}

// tokenResponse is the token endpoint's json response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IdToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// errorResponse is the token endpoint's json error response.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewClient creates a new Client.
// Supported options:
//   - WithLogger
func NewClient(c *Config, opt ...Option) (*Client, error) {
	const op = "cognito.NewClient"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: config is invalid: %w", op, err)
	}
	client, err := c.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	opts := getClientOpts(opt...)
	return &Client{
		config: c,
		client: client,
		logger: opts.withLogger,
	}, nil
}

// Config returns the client's config.
func (c *Client) Config() *Config {
	return c.config
}

// ExchangeCode exchanges an authorization code for tokens using the
// authorization_code grant.  The returned Tokens are not verified.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Tokens, error) {
	const op = "Client.ExchangeCode"
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	oauth2Config := oauth2.Config{
		ClientID:    c.config.ClientId,
		RedirectURL: c.config.RedirectUrl,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.config.PoolDomain + loginPath,
			TokenURL:  c.config.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: c.config.Scopes,
	}
	c.logger.Debug("exchanging authorization code", "token_url", c.config.TokenURL())
	oauth2Token, err := oauth2Config.Exchange(sdkHttp.ClientContext(ctx, c.client), code)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w: %w", op, ErrTokenExchangeFailed, err)
	}
	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIdToken)
	}
	return &Tokens{
		AccessToken:  AccessToken(oauth2Token.AccessToken),
		IdToken:      IdToken(idToken),
		RefreshToken: RefreshToken(oauth2Token.RefreshToken),
	}, nil
}

// Refresh requests new tokens using the refresh_token grant.  Providers
// typically don't rotate the refresh token, so the returned RefreshToken is
// often empty and callers must keep the one they have.
func (c *Client) Refresh(ctx context.Context, refreshToken RefreshToken) (*Tokens, error) {
	const op = "Client.Refresh"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.config.ClientId)
	form.Set("redirect_uri", c.config.RedirectUrl)
	form.Set("refresh_token", string(refreshToken))

	c.logger.Debug("refreshing tokens", "token_url", c.config.TokenURL())
	var resp tokenResponse
	if err := c.postForm(ctx, c.config.TokenURL(), form, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenRefreshFailed, err)
	}
	if resp.IdToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from refresh response: %w", op, ErrMissingIdToken)
	}
	return &Tokens{
		AccessToken:  AccessToken(resp.AccessToken),
		IdToken:      IdToken(resp.IdToken),
		RefreshToken: RefreshToken(resp.RefreshToken),
	}, nil
}

// PublicKeys fetches the user pool's JSON Web Key Set.
func (c *Client) PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error) {
	const op = "Client.PublicKeys"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.JWKSURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrKeySetFailed, err)
	}
	var keys jose.JSONWebKeySet
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, fmt.Errorf("%s: unable to decode key set: %w: %w", op, ErrKeySetFailed, err)
	}
	return &keys, nil
}

func (c *Client) postForm(ctx context.Context, u string, form url.Values, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unable to decode response: %w", err)
	}
	return nil
}

// do sends the request and returns the body of a 2xx response.  Any other
// status is returned as an *oauth2.RetrieveError.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("unable to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retrieveErr := &oauth2.RetrieveError{
			Response: resp,
			Body:     body,
		}
		var e errorResponse
		if err := json.Unmarshal(body, &e); err == nil {
			retrieveErr.ErrorCode = e.Error
			retrieveErr.ErrorDescription = e.ErrorDescription
		}
		return nil, retrieveErr
	}
	return body, nil
}
