// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/samber/oops"
)

// ResetNotifier delivers reset links. Implementations must return without
// waiting for delivery; failures stay inside the notifier.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, email, resetURL string, expiresIn time.Duration)
}

// ResetConfig configures a ResetTokenManager.
type ResetConfig struct {
	// TTL is the token lifetime. Zero means DefaultResetTokenTTL.
	TTL time.Duration
	// BaseURL is the page that receives the token as its "token" query parameter.
	BaseURL string
}

// ResetTokenManager issues, validates and consumes password reset tokens.
// At most one live token exists per user.
type ResetTokenManager struct {
	users    UserRepository
	resets   ResetTokenRepository
	notifier ResetNotifier
	ttl      time.Duration
	baseURL  *url.URL
	logger   *slog.Logger
	now      func() time.Time
}

// NewResetTokenManager creates a ResetTokenManager.
func NewResetTokenManager(
	users UserRepository,
	resets ResetTokenRepository,
	notifier ResetNotifier,
	cfg ResetConfig,
	opts ...Option,
) (*ResetTokenManager, error) {
	if users == nil {
		return nil, oops.Code("RESET_CONFIG").Errorf("user repository is required")
	}
	if resets == nil {
		return nil, oops.Code("RESET_CONFIG").Errorf("reset repository is required")
	}
	if notifier == nil {
		return nil, oops.Code("RESET_CONFIG").Errorf("notifier is required")
	}
	if cfg.TTL < 0 {
		return nil, oops.Code("RESET_CONFIG").With("ttl", cfg.TTL).Errorf("reset TTL must be positive")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultResetTokenTTL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, oops.Code("RESET_CONFIG").With("base_url", cfg.BaseURL).Errorf("reset base URL must be absolute")
	}

	o := applyOptions(opts)
	return &ResetTokenManager{
		users:    users,
		resets:   resets,
		notifier: notifier,
		ttl:      cfg.TTL,
		baseURL:  base,
		logger:   o.logger,
		now:      o.now,
	}, nil
}

// TTL returns the lifetime of newly issued tokens.
func (m *ResetTokenManager) TTL() time.Duration {
	return m.ttl
}

// Request issues a reset token for the account registered under email and
// hands the reset link to the notifier. Unknown emails succeed silently.
func (m *ResetTokenManager) Request(ctx context.Context, email string) error {
	user, err := m.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").With("operation", "GetByEmail").Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").With("operation", "GenerateResetToken").Wrap(err)
	}

	reset, err := NewResetToken(user.ID, hash, m.now().Add(m.ttl))
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").With("operation", "NewResetToken").Wrap(err)
	}

	if err := m.resets.Replace(ctx, reset); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "Replace").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	m.logger.InfoContext(ctx, "password reset token issued",
		"user_id", user.ID.String(),
		"expires_at", reset.ExpiresAt)
	m.notifier.NotifyPasswordReset(ctx, user.Email, m.resetURL(token), m.ttl)
	return nil
}

// Validate reports whether token names a live reset record. An expired
// record is deleted before returning false.
func (m *ResetTokenManager) Validate(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	reset, err := m.resets.GetByTokenHash(ctx, HashResetToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, oops.Code("RESET_VALIDATE_FAILED").With("operation", "GetByTokenHash").Wrap(err)
	}

	if reset.IsExpired(m.now()) {
		if err := m.deleteExpired(ctx, reset); err != nil {
			return false, oops.Code("RESET_VALIDATE_FAILED").With("operation", "Delete").Wrap(err)
		}
		return false, nil
	}
	return true, nil
}

// Consume deletes the record and then sets the owning user's password hash.
// A token succeeds at most once, even under concurrent calls. If the password
// update fails after the delete, the token is spent and the user must request
// a new one.
func (m *ResetTokenManager) Consume(ctx context.Context, token, newPasswordHash string) error {
	if newPasswordHash == "" {
		return oops.Code("RESET_PASSWORD_EMPTY").Errorf("new password hash cannot be empty")
	}
	if token == "" {
		return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrInvalidOrExpiredToken)
	}

	reset, err := m.resets.GetByTokenHash(ctx, HashResetToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrInvalidOrExpiredToken)
		}
		return oops.Code("RESET_CONSUME_FAILED").With("operation", "GetByTokenHash").Wrap(err)
	}

	if reset.IsExpired(m.now()) {
		if err := m.deleteExpired(ctx, reset); err != nil {
			return oops.Code("RESET_CONSUME_FAILED").With("operation", "Delete").Wrap(err)
		}
		return oops.Code("RESET_TOKEN_EXPIRED").With("user_id", reset.UserID.String()).Wrap(ErrTokenExpired)
	}

	// Deleting the record claims the token; only the caller whose delete
	// removed it may set the password.
	if err := m.resets.Delete(ctx, reset.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrInvalidOrExpiredToken)
		}
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "Delete").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}

	if err := m.users.UpdatePassword(ctx, reset.UserID, newPasswordHash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_USER_NOT_FOUND").With("user_id", reset.UserID.String()).Wrap(ErrUserNotFound)
		}
		return oops.Code("RESET_CONSUME_FAILED").With("operation", "UpdatePassword").Wrap(err)
	}

	m.logger.InfoContext(ctx, "password reset completed", "user_id", reset.UserID.String())
	return nil
}

// PurgeExpired deletes every expired record and returns the count.
func (m *ResetTokenManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.resets.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").Wrap(err)
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "purged expired reset tokens", "count", n)
	}
	return n, nil
}

func (m *ResetTokenManager) deleteExpired(ctx context.Context, reset *ResetToken) error {
	if err := m.resets.Delete(ctx, reset.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	m.logger.DebugContext(ctx, "deleted expired reset token", "user_id", reset.UserID.String())
	return nil
}

func (m *ResetTokenManager) resetURL(token string) string {
	u := *m.baseURL
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
