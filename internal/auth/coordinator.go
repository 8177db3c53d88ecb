// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// dummyPasswordHash is verified when a user doesn't exist so that lookups
// of unknown and known emails take the same time. It never matches.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Operation names reported to Metrics.
const (
	OpLogin          = "login"
	OpRegister       = "register"
	OpRefresh        = "refresh"
	OpForgotPassword = "forgot_password"
	OpResetPassword  = "reset_password"
	OpUpdateProfile  = "update_profile"
)

// AuthResult is returned by Login, Register and RefreshToken.
type AuthResult struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UserID       ulid.ULID `json:"user_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
}

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID ulid.ULID
	Email  string
	Role   Role
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// RotateRefresh mints a new refresh token on every refresh instead of
	// returning the presented one.
	RotateRefresh bool
}

// Coordinator orchestrates the credential and token flows.
type Coordinator struct {
	users         UserRepository
	tokens        TokenIssuer
	resets        *ResetTokenManager
	hasher        PasswordHasher
	rotateRefresh bool
	logger        *slog.Logger
	metrics       Metrics
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	users UserRepository,
	tokens TokenIssuer,
	resets *ResetTokenManager,
	hasher PasswordHasher,
	cfg CoordinatorConfig,
	opts ...Option,
) (*Coordinator, error) {
	if users == nil {
		return nil, oops.Code("AUTH_CONFIG").Errorf("user repository is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_CONFIG").Errorf("token issuer is required")
	}
	if resets == nil {
		return nil, oops.Code("AUTH_CONFIG").Errorf("reset token manager is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_CONFIG").Errorf("password hasher is required")
	}

	o := applyOptions(opts)
	return &Coordinator{
		users:         users,
		tokens:        tokens,
		resets:        resets,
		hasher:        hasher,
		rotateRefresh: cfg.RotateRefresh,
		logger:        o.logger,
		metrics:       o.metrics,
	}, nil
}

// Login authenticates email and password. Unknown emails and wrong
// passwords fail identically with ErrInvalidCredentials.
func (c *Coordinator) Login(ctx context.Context, email, password string) (result *AuthResult, err error) {
	defer c.record(OpLogin, &err)

	user, lookupErr := c.users.GetByEmail(ctx, email)
	targetHash := dummyPasswordHash
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
	case errors.Is(lookupErr, ErrNotFound):
		user = nil
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "GetByEmail").Wrap(lookupErr)
	}

	valid, verifyErr := c.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if user == nil {
			return nil, invalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "Verify").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}
	if user == nil || !valid {
		return nil, invalidCredentials()
	}

	if c.hasher.NeedsUpgrade(user.PasswordHash) {
		c.upgradeHash(ctx, user, password)
	}

	return c.issue(ctx, user, "")
}

// Register creates an account and logs it in. An empty role means DefaultRole.
func (c *Coordinator) Register(ctx context.Context, name, email, password string, role Role) (result *AuthResult, err error) {
	defer c.record(OpRegister, &err)

	if role == "" {
		role = DefaultRole
	}
	if !role.Valid() {
		return nil, oops.Code("AUTH_INVALID_ROLE").With("role", role).Errorf("unknown role %q", role)
	}

	exists, err := c.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "ExistsByEmail").Wrap(err)
	}
	if exists {
		return nil, duplicateEmail(email)
	}

	hash, err := c.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := NewUser(name, email, hash, role)
	if err != nil {
		return nil, err
	}

	if err := c.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, duplicateEmail(email)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "Create").Wrap(err)
	}

	c.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String(), "role", user.Role)
	return c.issue(ctx, user, "")
}

// RefreshToken mints a new access token from a valid refresh token. The
// presented refresh token is returned unchanged unless rotation is enabled.
func (c *Coordinator) RefreshToken(ctx context.Context, refreshToken string) (result *AuthResult, err error) {
	defer c.record(OpRefresh, &err)

	claims, err := c.tokens.Validate(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, oops.Code("AUTH_INVALID_TOKEN").With("type", claims.Type).Wrap(ErrInvalidToken)
	}

	email, err := c.tokens.IdentityFromToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := c.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").Wrap(ErrUserNotFound)
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").With("operation", "GetByEmail").Wrap(err)
	}

	if c.rotateRefresh {
		return c.issue(ctx, user, "")
	}
	return c.issue(ctx, user, refreshToken)
}

// ForgotPassword starts a reset for email. The result never reveals whether
// the account exists; only infrastructure failures are returned.
func (c *Coordinator) ForgotPassword(ctx context.Context, email string) (err error) {
	defer c.record(OpForgotPassword, &err)

	if err := c.resets.Request(ctx, email); err != nil && !errors.Is(err, ErrUserNotFound) {
		return err
	}
	return nil
}

// ValidateResetToken reports whether token is a live reset token.
func (c *Coordinator) ValidateResetToken(ctx context.Context, token string) (bool, error) {
	return c.resets.Validate(ctx, token)
}

// ResetPassword sets a new password using a reset token.
func (c *Coordinator) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	defer c.record(OpResetPassword, &err)

	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return c.resets.Consume(ctx, token, hash)
}

// UpdateProfile applies patch to the target user. Callers may only edit
// their own profile.
func (c *Coordinator) UpdateProfile(ctx context.Context, callerID, targetID ulid.ULID, patch ProfilePatch) (profile *UserProfile, err error) {
	defer c.record(OpUpdateProfile, &err)

	if callerID != targetID {
		return nil, oops.Code("AUTH_FORBIDDEN").
			With("caller_id", callerID.String()).
			With("target_id", targetID.String()).
			Wrap(ErrUnauthorizedProfileEdit)
	}

	user, err := c.users.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").With("user_id", targetID.String()).Wrap(ErrUserNotFound)
		}
		return nil, oops.Code("AUTH_PROFILE_UPDATE_FAILED").With("operation", "GetByID").Wrap(err)
	}

	if !patch.Apply(user) {
		return user.View(), nil
	}
	if err := c.users.Save(ctx, user); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").With("user_id", targetID.String()).Wrap(ErrUserNotFound)
		}
		return nil, oops.Code("AUTH_PROFILE_UPDATE_FAILED").With("operation", "Save").Wrap(err)
	}
	return user.View(), nil
}

// Profile returns the caller's own profile.
func (c *Coordinator) Profile(ctx context.Context, callerID ulid.ULID) (*UserProfile, error) {
	user, err := c.users.GetByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").With("user_id", callerID.String()).Wrap(ErrUserNotFound)
		}
		return nil, oops.Code("AUTH_PROFILE_FAILED").With("operation", "GetByID").Wrap(err)
	}
	return user.View(), nil
}

// Authenticate validates an access token and returns the caller identity.
// Refresh tokens are rejected.
func (c *Coordinator) Authenticate(_ context.Context, accessToken string) (*Identity, error) {
	claims, err := c.tokens.Validate(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, oops.Code("AUTH_INVALID_TOKEN").With("type", claims.Type).Wrap(ErrInvalidToken)
	}
	id, err := claims.UserULID()
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: id, Email: claims.Subject, Role: claims.Role}, nil
}

// PurgeExpiredResets deletes expired reset tokens.
func (c *Coordinator) PurgeExpiredResets(ctx context.Context) (int64, error) {
	return c.resets.PurgeExpired(ctx)
}

func (c *Coordinator) issue(ctx context.Context, user *User, refreshToken string) (*AuthResult, error) {
	access, err := c.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	if refreshToken == "" {
		refreshToken, err = c.tokens.IssueRefreshToken(user)
		if err != nil {
			return nil, err
		}
	}
	c.logger.DebugContext(ctx, "tokens issued", "user_id", user.ID.String())
	return &AuthResult{
		AccessToken:  access,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Name:         user.Name,
		Email:        user.Email,
		Role:         user.Role,
	}, nil
}

// upgradeHash re-hashes with argon2id. Failure is logged; login proceeds.
func (c *Coordinator) upgradeHash(ctx context.Context, user *User, password string) {
	start := time.Now()
	newHash, err := c.hasher.Hash(password)
	if err == nil {
		err = c.users.UpdatePassword(ctx, user.ID, newHash)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "password hash upgrade failed",
			"user_id", user.ID.String(),
			"error", err)
		return
	}
	user.PasswordHash = newHash
	c.logger.InfoContext(ctx, "password hash upgraded",
		"user_id", user.ID.String(),
		"duration", time.Since(start))
}

func (c *Coordinator) record(op string, err *error) {
	c.metrics.RecordAuthOperation(op, Outcome(*err))
}

// Outcome classifies err into a low-cardinality metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrInvalidOrExpiredToken):
		return "invalid_token"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrUnauthorizedProfileEdit):
		return "forbidden"
	default:
		return "error"
	}
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
}

func duplicateEmail(email string) error {
	return oops.Code("AUTH_DUPLICATE_EMAIL").With("email", email).Wrap(ErrDuplicateEmail)
}
