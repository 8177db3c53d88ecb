// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the authorization role carried by a user and its tokens.
type Role string

// Known roles.
const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

// DefaultRole is assigned when registration does not name a role.
const DefaultRole = RoleCustomer

// ParseRole normalizes a role name. An empty name yields DefaultRole.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case "":
		return DefaultRole, nil
	case RoleCustomer:
		return RoleCustomer, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", oops.Code("AUTH_INVALID_ROLE").With("role", s).Errorf("unknown role %q", s)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// Profile holds the optional contact fields of a user.
type Profile struct {
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// User represents a registered account.
type User struct {
	ID           ulid.ULID
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Profile      Profile
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates a User with a fresh ID. The password must already be hashed.
func NewUser(name, email, passwordHash string, role Role) (*User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, oops.Code("AUTH_INVALID_USER").Errorf("name cannot be empty")
	}
	if strings.TrimSpace(email) == "" {
		return nil, oops.Code("AUTH_INVALID_USER").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_USER").Errorf("password hash cannot be empty")
	}
	if role == "" {
		role = DefaultRole
	}
	if !role.Valid() {
		return nil, oops.Code("AUTH_INVALID_ROLE").With("role", role).Errorf("unknown role %q", role)
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// UserProfile is the read model of a user returned to callers. It never
// carries the password hash.
type UserProfile struct {
	ID        ulid.ULID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Profile   Profile   `json:"profile"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// View returns the read model of u.
func (u *User) View() *UserProfile {
	return &UserProfile{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		Profile:   u.Profile,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// ProfilePatch is a partial profile update. Nil fields are left unchanged.
type ProfilePatch struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
	City    *string `json:"city,omitempty"`
	State   *string `json:"state,omitempty"`
	ZipCode *string `json:"zip_code,omitempty"`
	Country *string `json:"country,omitempty"`
	Phone   *string `json:"phone,omitempty"`
}

// Apply copies the supplied fields onto u and reports whether anything was set.
func (p ProfilePatch) Apply(u *User) bool {
	changed := false
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
			changed = true
		}
	}
	set(&u.Name, p.Name)
	set(&u.Profile.Address, p.Address)
	set(&u.Profile.City, p.City)
	set(&u.Profile.State, p.State)
	set(&u.Profile.ZipCode, p.ZipCode)
	set(&u.Profile.Country, p.Country)
	set(&u.Profile.Phone, p.Phone)
	if changed {
		u.UpdatedAt = time.Now().UTC()
	}
	return changed
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user.
	// Returns ErrDuplicateEmail if the email is already registered; the check
	// must be atomic with the insert.
	Create(ctx context.Context, user *User) error

	// GetByEmail retrieves a user by exact email.
	// Returns ErrUserNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID retrieves a user by ID.
	// Returns ErrUserNotFound if the user does not exist.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// ExistsByEmail reports whether a user with the email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// Save writes the mutable fields (name, profile, role) of an existing user.
	Save(ctx context.Context, user *User) error

	// UpdatePassword replaces only the password hash of a user.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
