// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes      = 32 // 32 bytes = 64 hex chars
	DefaultResetTokenTTL = 2 * time.Hour
)

// ResetToken is a live password reset record. Existence means unconsumed;
// only the SHA-256 hash of the plaintext token is stored.
type ResetToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewResetToken creates a ResetToken owned by userID.
func NewResetToken(userID ulid.ULID, tokenHash string, expiresAt time.Time) (*ResetToken, error) {
	if userID.IsZero() {
		return nil, oops.Code("RESET_INVALID").Errorf("user ID cannot be empty")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("RESET_INVALID").Errorf("expiry cannot be empty")
	}
	return &ResetToken{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// IsExpired reports whether the token has expired at now.
func (r *ResetToken) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// GenerateResetToken creates a secure random token and its hash.
// The plaintext goes into the reset link; the hash is persisted.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashResetToken(token), nil
}

// HashResetToken computes the hex SHA-256 digest stored for a plaintext token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ResetTokenRepository manages reset token persistence.
type ResetTokenRepository interface {
	// Replace deletes every record owned by reset.UserID and stores reset,
	// as one indivisible unit per user.
	Replace(ctx context.Context, reset *ResetToken) error

	// GetByTokenHash retrieves a record by its token hash.
	// Returns ErrNotFound if no record matches.
	GetByTokenHash(ctx context.Context, tokenHash string) (*ResetToken, error)

	// Delete removes a record. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByUser removes every record owned by a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes every record expired at now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
