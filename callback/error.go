// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrMissingCode      = errors.New("missing authorization code")
	ErrExchangeFailed   = errors.New("unable to exchange authorization code")
)
