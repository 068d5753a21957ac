// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides callbacks (in the form of http.HandlerFunc)
for handling the hosted UI's redirects after an authorization code flow
authentication attempt.
*/
package callback
