// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

// Package auth implements the credential and token lifecycle of Keystone.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with validated name, email and password hash
//   - NewResetToken - creates a ResetToken with validated owner, hash and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - JWTIssuer - access and refresh token minting and validation
//   - ResetTokenManager - single-use, time-limited password reset tokens
//   - Coordinator - login, registration, refresh, password reset, profile edits
//
// Constructors validate their dependencies and return an error when one is missing.
// Caller identity is always passed explicitly; nothing is read from ambient state.
package auth
