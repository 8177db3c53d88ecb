// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package auth

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Sentinels for the failure kinds callers are expected to distinguish.
// Service errors wrap these under an oops code, so match with errors.Is.
var (
	ErrDuplicateEmail          = errors.New("email already registered")
	ErrInvalidCredentials      = errors.New("invalid email or password")
	ErrInvalidToken            = errors.New("invalid token")
	ErrTokenExpired            = errors.New("token expired")
	ErrInvalidOrExpiredToken   = errors.New("invalid or expired reset token")
	ErrUnauthorizedProfileEdit = errors.New("you can only update your own profile")

	// ErrUserNotFound also matches ErrNotFound.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
)
