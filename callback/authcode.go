// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/cap-session/session"
)

// AuthCode creates an authorization code callback handler which exchanges
// the request's "code" parameter for the Observer's tokens.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(o *session.Observer, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case o == nil:
		return nil, fmt.Errorf("%s: observer is nil: %w", op, ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		if err := req.FormValue("error"); err != "" {
			// get parameters from either the body or query parameters.
			// FormValue prioritizes body values, if found
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqError, nil, w, req)
			return
		}

		reqCode := req.FormValue("code")
		if reqCode == "" {
			eFn(nil, fmt.Errorf("%s: %w", op, ErrMissingCode), w, req)
			return
		}

		// the Observer logs the exchange's failure detail
		if !o.FetchCognitoTokens(req.Context(), reqCode) {
			eFn(nil, fmt.Errorf("%s: %w", op, ErrExchangeFailed), w, req)
			return
		}
		sFn(o.UserData(), w, req)
	}, nil
}
