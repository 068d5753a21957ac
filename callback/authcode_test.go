// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/cap-session/cognito"
	"github.com/hashicorp/cap-session/session"
	"github.com/hashicorp/cap-session/store"
)

func testObserver(t *testing.T, tp *cognito.TestProvider) *session.Observer {
	t.Helper()
	o, err := session.New(tp.Config(), store.NewMemory())
	require.NoError(t, err)
	t.Cleanup(o.Done)
	return o
}

func testSuccessFn(claims cognito.Claims, w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(claims)
}

func testFailFn(respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	switch {
	case respErr != nil:
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(respErr)
	case errors.Is(e, ErrMissingCode):
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(e.Error()))
	default:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(e.Error()))
	}
}

func TestAuthCode(t *testing.T) {
	t.Parallel()
	tp := cognito.StartTestProvider(t)
	o := testObserver(t, tp)

	tests := []struct {
		name      string
		o         *session.Observer
		sFn       SuccessResponseFunc
		eFn       ErrorResponseFunc
		wantErr   bool
		wantIsErr error
	}{
		{"valid", o, testSuccessFn, testFailFn, false, nil},
		{"nil-o", nil, testSuccessFn, testFailFn, true, ErrInvalidParameter},
		{"nil-sFn", o, nil, testFailFn, true, ErrInvalidParameter},
		{"nil-eFn", o, testSuccessFn, nil, true, ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := AuthCode(tt.o, tt.sFn, tt.eFn)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.NotNil(got)
		})
	}
}

func Test_AuthCodeResponses(t *testing.T) {
	t.Parallel()
	tp := cognito.StartTestProvider(t)
	tp.SetExpectedAuthCode("valid-code")

	tests := []struct {
		name           string
		query          url.Values
		wantStatusCode int
		wantContains   string
		wantActive     bool
	}{
		{
			name:           "valid",
			query:          url.Values{"code": {"valid-code"}},
			wantStatusCode: http.StatusOK,
			wantContains:   cognito.TestSubject,
			wantActive:     true,
		},
		{
			name:           "provider-error",
			query:          url.Values{"error": {"access_denied"}, "error_description": {"user cancelled"}},
			wantStatusCode: http.StatusUnauthorized,
			wantContains:   "user cancelled",
		},
		{
			name:           "missing-code",
			query:          url.Values{},
			wantStatusCode: http.StatusBadRequest,
			wantContains:   ErrMissingCode.Error(),
		},
		{
			name:           "bad-code",
			query:          url.Values{"code": {"bad-code"}},
			wantStatusCode: http.StatusInternalServerError,
			wantContains:   ErrExchangeFailed.Error(),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			o := testObserver(t, tp)
			h, err := AuthCode(o, testSuccessFn, testFailFn)
			require.NoError(err)

			req := httptest.NewRequest(http.MethodGet, "/callback?"+tt.query.Encode(), nil)
			w := httptest.NewRecorder()
			h(w, req)

			resp := w.Result()
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(err)
			assert.Equal(tt.wantStatusCode, resp.StatusCode)
			assert.Contains(string(body), tt.wantContains)
			assert.Equal(tt.wantActive, o.IsActive())
		})
	}
}
