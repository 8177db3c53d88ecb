// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keystone-commerce/keystone/internal/auth"
)

const emailConstraint = "users_email_key"

const selectUser = `
		SELECT id, name, email, password_hash, role,
		       address, city, state, zip_code, country, phone,
		       created_at, updated_at
		FROM users`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user. The unique constraint on email makes the
// duplicate check atomic.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (
			id, name, email, password_hash, role,
			address, city, state, zip_code, country, phone,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		user.ID.String(),
		user.Name,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.Profile.Address,
		user.Profile.City,
		user.Profile.State,
		user.Profile.ZipCode,
		user.Profile.Country,
		user.Profile.Phone,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err, emailConstraint) {
		return oops.Code("USER_DUPLICATE_EMAIL").
			With("email", user.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByEmail retrieves a user by exact email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, selectUser+` WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrUserNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, selectUser+` WHERE id = $1`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrUserNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// ExistsByEmail reports whether a user with the email exists.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, oops.Code("USER_EXISTS_FAILED").
			With("operation", "check email").
			Wrap(err)
	}
	return exists, nil
}

// Save writes the mutable fields of an existing user in one statement.
func (r *UserRepository) Save(ctx context.Context, user *auth.User) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET name = $2, role = $3,
		    address = $4, city = $5, state = $6, zip_code = $7, country = $8, phone = $9,
		    updated_at = $10
		WHERE id = $1
	`,
		user.ID.String(),
		user.Name,
		string(user.Role),
		user.Profile.Address,
		user.Profile.City,
		user.Profile.State,
		user.Profile.ZipCode,
		user.Profile.Country,
		user.Profile.Phone,
		user.UpdatedAt,
	)
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrUserNotFound)
	}
	return nil
}

// UpdatePassword replaces only the password hash of a user.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id.String(), passwordHash, time.Now().UTC())
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrUserNotFound)
	}
	return nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr string
		role  string
		u     auth.User
	)
	err := row.Scan(
		&idStr,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&role,
		&u.Profile.Address,
		&u.Profile.City,
		&u.Profile.State,
		&u.Profile.ZipCode,
		&u.Profile.Country,
		&u.Profile.Phone,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	u.ID = id
	u.Role = auth.Role(role)
	return &u, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
