// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinTokenSecretBytes is the minimum HMAC secret length accepted by NewJWTIssuer.
const MinTokenSecretBytes = 32

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

// Token types.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the payload of access and refresh tokens. The subject is the
// user's email.
type Claims struct {
	jwt.RegisteredClaims
	UserID string    `json:"uid"`
	Role   Role      `json:"role"`
	Type   TokenType `json:"typ"`
}

// UserULID parses the uid claim.
func (c *Claims) UserULID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.UserID)
	if err != nil {
		return ulid.ULID{}, oops.Code("AUTH_INVALID_TOKEN").Wrap(ErrInvalidToken)
	}
	return id, nil
}

// TokenIssuer mints and validates signed tokens. Implementations do no I/O.
type TokenIssuer interface {
	IssueAccessToken(user *User) (string, error)
	IssueRefreshToken(user *User) (string, error)
	// Validate verifies signature and expiry.
	// Returns ErrTokenExpired or ErrInvalidToken.
	Validate(token string) (*Claims, error)
	// IdentityFromToken extracts the subject without verifying the token.
	// Call it only on tokens that already passed Validate.
	IdentityFromToken(token string) (string, error)
}

// JWTConfig configures a JWTIssuer.
type JWTConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// JWTIssuer implements TokenIssuer with HS256-signed JWTs.
type JWTIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewJWTIssuer validates cfg and returns an issuer. Zero TTLs take the defaults.
func NewJWTIssuer(cfg JWTConfig) (*JWTIssuer, error) {
	if len(cfg.Secret) < MinTokenSecretBytes {
		return nil, oops.Code("AUTH_TOKEN_CONFIG").
			With("min_bytes", MinTokenSecretBytes).
			Errorf("token secret must be at least %d bytes", MinTokenSecretBytes)
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, oops.Code("AUTH_TOKEN_CONFIG").Errorf("token lifetimes must be positive")
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &JWTIssuer{
		secret:     secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *JWTIssuer) WithClock(now func() time.Time) *JWTIssuer {
	cp := *i
	cp.now = now
	return &cp
}

// IssueAccessToken mints a short-lived access token for user.
func (i *JWTIssuer) IssueAccessToken(user *User) (string, error) {
	return i.issue(user, TokenTypeAccess, i.accessTTL)
}

// IssueRefreshToken mints a long-lived refresh token for user.
func (i *JWTIssuer) IssueRefreshToken(user *User) (string, error) {
	return i.issue(user, TokenTypeRefresh, i.refreshTTL)
}

func (i *JWTIssuer) issue(user *User, typ TokenType, ttl time.Duration) (string, error) {
	if user == nil {
		return "", oops.Code("AUTH_TOKEN_ISSUE_FAILED").Errorf("user is required")
	}
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        ulid.Make().String(),
		},
		UserID: user.ID.String(),
		Role:   user.Role,
		Type:   typ,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("type", typ).Wrap(err)
	}
	return signed, nil
}

// Validate verifies token and returns its claims.
func (i *JWTIssuer) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, oops.Code("AUTH_INVALID_TOKEN").Wrap(ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code("AUTH_TOKEN_EXPIRED").Wrap(ErrTokenExpired)
		}
		return nil, oops.Code("AUTH_INVALID_TOKEN").With("reason", err.Error()).Wrap(ErrInvalidToken)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, oops.Code("AUTH_INVALID_TOKEN").Wrap(ErrInvalidToken)
	}
	if claims.Type != TokenTypeAccess && claims.Type != TokenTypeRefresh {
		return nil, oops.Code("AUTH_INVALID_TOKEN").With("type", claims.Type).Wrap(ErrInvalidToken)
	}
	if _, err := claims.UserULID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// IdentityFromToken returns the subject (email) without verifying the signature.
func (i *JWTIssuer) IdentityFromToken(token string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", oops.Code("AUTH_INVALID_TOKEN").Wrap(ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "", oops.Code("AUTH_INVALID_TOKEN").Wrap(ErrInvalidToken)
	}
	return claims.Subject, nil
}

var _ TokenIssuer = (*JWTIssuer)(nil)
