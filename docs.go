// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// cap-session provides a collection of related packages which manage an
// OAuth2/OIDC session against a user pool's hosted domain: the authorization
// code exchange, id and access token verification, token persistence shared
// between processes, and scheduled refresh with subscriber notification.
//
// See package session for the entry point.  Package callback provides the
// http.HandlerFunc for the hosted UI's redirect.
package cap
