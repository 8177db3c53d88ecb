// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package auth_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-commerce/keystone/internal/auth"
	"github.com/keystone-commerce/keystone/pkg/errutil"
)

func TestGenerateResetToken(t *testing.T) {
	t.Run("generates 64 hex chars", func(t *testing.T) {
		token, hash, err := auth.GenerateResetToken()
		require.NoError(t, err)
		assert.Len(t, token, 64)
		_, err = hex.DecodeString(token)
		assert.NoError(t, err)
		assert.NotEqual(t, token, hash)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, hash1, err := auth.GenerateResetToken()
		require.NoError(t, err)
		token2, hash2, err := auth.GenerateResetToken()
		require.NoError(t, err)

		assert.NotEqual(t, token1, token2)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("hash is SHA256 of plaintext", func(t *testing.T) {
		token, hash, err := auth.GenerateResetToken()
		require.NoError(t, err)
		sum := sha256.Sum256([]byte(token))
		assert.Equal(t, hex.EncodeToString(sum[:]), hash)
		assert.Equal(t, hash, auth.HashResetToken(token))
	})
}

func TestNewResetToken(t *testing.T) {
	userID := ulid.Make()
	expires := time.Now().Add(auth.DefaultResetTokenTTL)

	tests := []struct {
		name    string
		userID  ulid.ULID
		hash    string
		expires time.Time
		wantErr bool
	}{
		{"valid", userID, "hash", expires, false},
		{"zero user", ulid.ULID{}, "hash", expires, true},
		{"empty hash", userID, "", expires, true},
		{"zero expiry", userID, "hash", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := auth.NewResetToken(tt.userID, tt.hash, tt.expires)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "RESET_INVALID")
				return
			}
			require.NoError(t, err)
			assert.False(t, r.ID.IsZero())
			assert.Equal(t, tt.userID, r.UserID)
		})
	}
}

func TestResetToken_IsExpired(t *testing.T) {
	now := time.Now()
	r := &auth.ResetToken{ExpiresAt: now}

	assert.False(t, r.IsExpired(now.Add(-time.Nanosecond)))
	assert.True(t, r.IsExpired(now), "expiry instant counts as expired")
	assert.True(t, r.IsExpired(now.Add(time.Second)))
}

func TestDefaultResetTokenTTL(t *testing.T) {
	assert.Equal(t, 2*time.Hour, auth.DefaultResetTokenTTL)
	assert.Equal(t, 32, auth.ResetTokenBytes)
}
