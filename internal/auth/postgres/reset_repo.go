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

// ResetTokenRepository implements auth.ResetTokenRepository using PostgreSQL.
type ResetTokenRepository struct {
	db DB
}

// NewResetTokenRepository creates a new ResetTokenRepository.
func NewResetTokenRepository(db DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Replace deletes the user's existing records and inserts reset in one
// transaction. The owning user row is locked first so concurrent requests
// for the same user serialize.
func (r *ResetTokenRepository) Replace(ctx context.Context, reset *auth.ResetToken) error {
	userID := reset.UserID.String()

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("USER_NOT_FOUND").With("id", userID).Wrap(auth.ErrUserNotFound)
		}
		if err != nil {
			return oops.Code("RESET_REPLACE_FAILED").
				With("operation", "lock user").
				With("user_id", userID).
				Wrap(err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID); err != nil {
			return oops.Code("RESET_REPLACE_FAILED").
				With("operation", "delete previous resets").
				With("user_id", userID).
				Wrap(err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO password_resets (id, user_id, token_hash, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, reset.ID.String(), userID, reset.TokenHash, reset.ExpiresAt, reset.CreatedAt); err != nil {
			return oops.Code("RESET_REPLACE_FAILED").
				With("operation", "insert password_reset").
				With("user_id", userID).
				Wrap(err)
		}
		return nil
	})
}

// GetByTokenHash retrieves a record by its token hash.
func (r *ResetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash)

	reset, err := scanReset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").
			With("operation", "get reset by token hash").
			Wrap(err)
	}
	return reset, nil
}

// Delete removes a record.
func (r *ResetTokenRepository) Delete(ctx context.Context, id ulid.ULID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM password_resets WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete password_reset").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("RESET_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes every record owned by userID.
func (r *ResetTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID.String()); err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete password_resets by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes records whose expiry is at or before now.
func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM password_resets WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired password_resets").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// scanReset scans a single row into a ResetToken.
// Callers are responsible for handling pgx.ErrNoRows.
func scanReset(row pgx.Row) (*auth.ResetToken, error) {
	var (
		idStr, userIDStr string
		reset            auth.ResetToken
	)
	if err := row.Scan(&idStr, &userIDStr, &reset.TokenHash, &reset.ExpiresAt, &reset.CreatedAt); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("id", idStr).Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("user_id", userIDStr).Wrap(err)
	}
	reset.ID = id
	reset.UserID = userID
	return &reset, nil
}

var _ auth.ResetTokenRepository = (*ResetTokenRepository)(nil)
