// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"

	"github.com/hashicorp/cap-session/cognito"
)

// SuccessResponseFunc is used by Callbacks to create a http response when the
// callback is successful.
//
// The claims are the verified id token's claims of the session started by
// the code exchange.  The function should use the http.ResponseWriter to send
// back whatever content (headers, html, JSON, etc) it wishes to the client
// that originated the flow.
type SuccessResponseFunc func(claims cognito.Claims, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Callbacks to create a http response when the
// callback fails.
//
// The function gets parameters for the provider's authentication error
// response and/or the callback error raised while processing the request.
// The function should use the http.ResponseWriter to send back whatever
// content (headers, html, JSON, etc) it wishes to the client that originated
// the flow.
type ErrorResponseFunc func(respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://www.rfc-editor.org/rfc/rfc6749#section-4.1.2.1
type AuthenErrorResponse struct {
	Error       string
	Description string
	Uri         string
}
