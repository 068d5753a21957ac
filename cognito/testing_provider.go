// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cognito

import (
	"bytes"
	"crypto"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	// TestClientId is the app client id the TestProvider issues tokens to.
	TestClientId = "test-client"
	// TestUserPoolId is the user pool id of the TestProvider.
	TestUserPoolId = "eu-west-1_TEST"
	// TestRegion is the region of the TestProvider.
	TestRegion = "eu-west-1"
	// TestRedirectUrl is the redirect url the TestProvider allows.
	TestRedirectUrl = "https://app.example/callback"
	// TestSubject is the sub claim of the TestProvider's tokens.
	TestSubject = "alice"

	testKeyID = "test-key"
)

// TestProvider is a local TLS server that emulates a user pool's hosted
// domain: the /login page, the /oauth2/token endpoint and the pool's JSON Web
// Key Set.  It makes writing tests much easier.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu sync.Mutex

	publicKey  crypto.PublicKey
	privateKey crypto.PrivateKey
	clock      clockwork.Clock

	clientId            string
	expectedAuthCode    string
	allowedRefreshToken string
	replyRefreshToken   string
	tokenTTL            time.Duration
	customClaims        map[string]interface{}
	omitIdToken         bool
	rotateRefreshToken  bool
	tokenErrStatus      int
	tokenErrCode        string
	issued              int
	requests            map[string]int

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider.  It's stopped when the
// test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clock:               clockwork.NewRealClock(),
		clientId:            TestClientId,
		expectedAuthCode:    "test-code",
		allowedRefreshToken: "test-refresh-token",
		replyRefreshToken:   "test-refresh-token",
		tokenTTL:            time.Hour,
		requests:            map[string]int{},
		t:                   t,
	}
	p.publicKey, p.privateKey = TestGenerateKeys(t)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running
// webserver.  It's both the pool domain and the issuer base url.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// Issuer returns the iss claim of the provider's tokens.
func (p *TestProvider) Issuer() string { return p.Addr() + "/" + TestUserPoolId }

// SigningKeys returns the test provider's keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (crypto.PublicKey, crypto.PrivateKey) {
	return p.publicKey, p.privateKey
}

// Config returns a Config for the provider's app client.
func (p *TestProvider) Config() *Config {
	p.t.Helper()
	c, err := NewConfig(TestClientId, p.Addr(), TestRedirectUrl, TestRegion, TestUserPoolId,
		WithIssuerBaseURL(p.Addr()),
		WithProviderCA(p.CACert()),
	)
	require.NoError(p.t, err)
	return c
}

// SetClock sets the clock used for the iat and exp claims of issued tokens.
func (p *TestProvider) SetClock(c clockwork.Clock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = c
}

// SetExpectedAuthCode configures the auth code the /login page issues and
// the /oauth2/token endpoint accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetRefreshToken configures the refresh token returned by the authorization
// code grant and accepted by the refresh grant.
func (p *TestProvider) SetRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRefreshToken = rt
	p.replyRefreshToken = rt
}

// SetTokenTTL configures the lifetime of issued tokens.  A negative ttl
// issues already expired tokens.
func (p *TestProvider) SetTokenTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenTTL = ttl
}

// SetCustomClaims lets you set claims to add to the issued id tokens.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// OmitIdTokens forces an error state where the /oauth2/token endpoint does not
// return an id_token.
func (p *TestProvider) OmitIdTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIdToken = omit
}

// RotateRefreshTokens makes the refresh grant return a new refresh token.
func (p *TestProvider) RotateRefreshTokens(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefreshToken = rotate
}

// SetTokenError makes the /oauth2/token endpoint reply with the status and
// oauth error code.  A status of 0 clears the error.
func (p *TestProvider) SetTokenError(status int, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErrStatus = status
	p.tokenErrCode = code
}

// TokenRequests returns the number of /oauth2/token requests received for the
// grant type.
func (p *TestProvider) TokenRequests(grantType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[grantType]
}

// IdToken returns a signed id token for the provider's app client.  The
// claims override the defaults; a nil value removes the claim.
func (p *TestProvider) IdToken(claims map[string]interface{}) string {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signLocked(p.idClaimsLocked(claims))
}

// AccessToken returns a signed access token for the provider's app client.
// The claims override the defaults; a nil value removes the claim.
func (p *TestProvider) AccessToken(claims map[string]interface{}) string {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signLocked(p.accessClaimsLocked(claims))
}

func (p *TestProvider) baseClaimsLocked() map[string]interface{} {
	now := p.clock.Now()
	return map[string]interface{}{
		"iss": p.Issuer(),
		"sub": TestSubject,
		"iat": now.Unix(),
		"exp": now.Add(p.tokenTTL).Unix(),
	}
}

func (p *TestProvider) idClaimsLocked(overrides map[string]interface{}) map[string]interface{} {
	c := p.baseClaimsLocked()
	c["aud"] = p.clientId
	c["token_use"] = string(TokenUseId)
	c["email"] = TestSubject + "@example.com"
	c["jti"] = p.nextJtiLocked()
	for k, v := range p.customClaims {
		c[k] = v
	}
	return applyClaims(c, overrides)
}

func (p *TestProvider) accessClaimsLocked(overrides map[string]interface{}) map[string]interface{} {
	c := p.baseClaimsLocked()
	c["client_id"] = p.clientId
	c["token_use"] = string(TokenUseAccess)
	c["jti"] = p.nextJtiLocked()
	return applyClaims(c, overrides)
}

// nextJtiLocked keeps every issued token unique, even when issued within the
// same second.
func (p *TestProvider) nextJtiLocked() int {
	p.issued++
	return p.issued
}

func applyClaims(c map[string]interface{}, overrides map[string]interface{}) map[string]interface{} {
	for k, v := range overrides {
		if v == nil {
			delete(c, k)
			continue
		}
		c[k] = v
	}
	return c
}

func (p *TestProvider) signLocked(claims map[string]interface{}) string {
	return TestSignJWT(p.t, p.privateKey, testKeyID, claims)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeTokenError(w http.ResponseWriter, status int, code, desc string) {
	p.writeJSON(w, status, errorResponse{Error: code, ErrorDescription: desc})
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case "/" + TestUserPoolId + wellKnownJWKS:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, http.StatusOK, jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{
				{Key: p.publicKey, KeyID: testKeyID, Algorithm: string(jose.RS256), Use: "sig"},
			},
		})

	case loginPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		if qv.Get("response_type") != "code" || qv.Get("client_id") != p.clientId || qv.Get("redirect_uri") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		http.Redirect(w, req, qv.Get("redirect_uri")+"?code="+url.QueryEscape(p.expectedAuthCode), http.StatusFound)

	case tokenPath:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		grantType := req.FormValue("grant_type")
		p.requests[grantType]++

		switch {
		case p.tokenErrStatus != 0:
			p.writeTokenError(w, p.tokenErrStatus, p.tokenErrCode, "forced error")
			return
		case req.FormValue("client_id") != p.clientId:
			p.writeTokenError(w, http.StatusBadRequest, "invalid_client", "unexpected client_id")
			return
		case req.FormValue("redirect_uri") != TestRedirectUrl:
			p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		}

		reply := tokenResponse{
			AccessToken: p.signLocked(p.accessClaimsLocked(nil)),
			IdToken:     p.signLocked(p.idClaimsLocked(nil)),
			ExpiresIn:   int64(p.tokenTTL / time.Second),
			TokenType:   "Bearer",
		}
		switch grantType {
		case "authorization_code":
			if req.FormValue("code") != p.expectedAuthCode {
				p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
				return
			}
			reply.RefreshToken = p.replyRefreshToken
		case "refresh_token":
			if req.FormValue("refresh_token") != p.allowedRefreshToken {
				p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "unexpected refresh token")
				return
			}
			if p.rotateRefreshToken {
				p.allowedRefreshToken = p.allowedRefreshToken + "-rotated"
				p.replyRefreshToken = p.allowedRefreshToken
				reply.RefreshToken = p.allowedRefreshToken
			}
		default:
			p.writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
			return
		}
		if p.omitIdToken {
			reply.IdToken = ""
		}
		p.writeJSON(w, http.StatusOK, reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
