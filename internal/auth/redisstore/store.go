// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

// Package redisstore keeps password reset records in Redis, where key TTLs
// retire expired records without a sweep once a retention window has passed.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keystone-commerce/keystone/internal/auth"
)

const (
	keyPrefix = "keystone:reset:"

	// Optimistic transactions are retried this many times when a watched
	// key changes underneath them.
	maxWatchAttempts = 5

	// Redis rejects non-positive expirations.
	minTTL = time.Second

	// Records outlive their expiry by this long so a late lookup reports the
	// token as expired rather than unknown.
	expiredRetention = time.Hour
)

func tokenKey(hash string) string   { return keyPrefix + "token:" + hash }
func userKey(id ulid.ULID) string   { return keyPrefix + "user:" + id.String() }
func recordKey(id ulid.ULID) string { return keyPrefix + "id:" + id.String() }

// getter is satisfied by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type record struct {
	ID        ulid.ULID `json:"id"`
	UserID    ulid.ULID `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ResetTokenRepository implements auth.ResetTokenRepository on Redis.
//
// Three keys exist per live record: the token key holds the record, the user
// key and the id key hold the token hash. All three share one TTL: the
// record's remaining lifetime plus a retention window.
type ResetTokenRepository struct {
	client redis.UniversalClient
	now    func() time.Time
}

// Option configures a ResetTokenRepository.
type Option func(*ResetTokenRepository)

// WithClock overrides the clock used to compute key TTLs.
func WithClock(now func() time.Time) Option {
	return func(r *ResetTokenRepository) { r.now = now }
}

// NewResetTokenRepository returns a repository backed by client.
func NewResetTokenRepository(client redis.UniversalClient, opts ...Option) *ResetTokenRepository {
	r := &ResetTokenRepository{client: client, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").Wrapf(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}

// Replace swaps the user's current record for reset. The user key is
// watched, so concurrent replaces for one user serialize and exactly one
// record survives.
func (r *ResetTokenRepository) Replace(ctx context.Context, reset *auth.ResetToken) error {
	payload, err := json.Marshal(record{
		ID:        reset.ID,
		UserID:    reset.UserID,
		TokenHash: reset.TokenHash,
		ExpiresAt: reset.ExpiresAt,
		CreatedAt: reset.CreatedAt,
	})
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").Wrap(err)
	}
	ttl := r.ttl(reset.ExpiresAt)
	uk := userKey(reset.UserID)

	err = r.watch(ctx, func(tx *redis.Tx) error {
		prev, err := r.currentForUser(ctx, tx, reset.UserID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev != nil {
				pipe.Del(ctx, tokenKey(prev.TokenHash), recordKey(prev.ID))
			}
			pipe.Set(ctx, tokenKey(reset.TokenHash), payload, ttl)
			pipe.Set(ctx, recordKey(reset.ID), reset.TokenHash, ttl)
			pipe.Set(ctx, uk, reset.TokenHash, ttl)
			return nil
		})
		return err
	}, uk)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash returns the record stored under tokenHash.
func (r *ResetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	rec, err := r.load(ctx, r.client, tokenHash)
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").Wrap(err)
	}
	if rec == nil {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return rec, nil
}

// Delete removes the record with the given id.
func (r *ResetTokenRepository) Delete(ctx context.Context, id ulid.ULID) error {
	var found bool
	err := r.watch(ctx, func(tx *redis.Tx) error {
		hash, err := tx.Get(ctx, recordKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return r.purge(ctx, tx, hash, id)
	}, recordKey(id))
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").With("id", id.String()).Wrap(err)
	}
	if !found {
		return oops.Code("RESET_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes the user's record, if any.
func (r *ResetTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	uk := userKey(userID)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		prev, err := r.currentForUser(ctx, tx, userID)
		if err != nil || prev == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, tokenKey(prev.TokenHash), recordKey(prev.ID), uk)
			return nil
		})
		return err
	}, uk)
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return nil
}

// DeleteExpired is a no-op; key TTLs remove expired records after the
// retention window, and lookups inside the window delete them lazily.
func (r *ResetTokenRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// purge deletes the token and id keys for a record and clears the user key
// when it still points at this record.
func (r *ResetTokenRepository) purge(ctx context.Context, tx *redis.Tx, hash string, id ulid.ULID) error {
	rec, err := r.load(ctx, tx, hash)
	if err != nil {
		return err
	}

	var uk string
	if rec != nil {
		uk = userKey(rec.UserID)
		if err := tx.Watch(ctx, uk).Err(); err != nil {
			return err
		}
		current, err := tx.Get(ctx, uk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != hash {
			uk = ""
		}
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tokenKey(hash), recordKey(id))
		if uk != "" {
			pipe.Del(ctx, uk)
		}
		return nil
	})
	return err
}

func (r *ResetTokenRepository) currentForUser(ctx context.Context, c getter, userID ulid.ULID) (*auth.ResetToken, error) {
	hash, err := c.Get(ctx, userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.load(ctx, c, hash)
}

// load returns nil, nil when the token key is absent.
func (r *ResetTokenRepository) load(ctx context.Context, c getter, hash string) (*auth.ResetToken, error) {
	raw, err := c.Get(ctx, tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, oops.Code("RESET_DECODE_FAILED").Wrap(err)
	}
	return &auth.ResetToken{
		ID:        rec.ID,
		UserID:    rec.UserID,
		TokenHash: rec.TokenHash,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (r *ResetTokenRepository) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for range maxWatchAttempts {
		err = r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (r *ResetTokenRepository) ttl(expiresAt time.Time) time.Duration {
	return max(expiresAt.Sub(r.now())+expiredRetention, minTTL)
}
