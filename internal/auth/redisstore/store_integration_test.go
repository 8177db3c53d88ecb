//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package redisstore_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/keystone-commerce/keystone/internal/auth"
	"github.com/keystone-commerce/keystone/internal/auth/memstore"
	"github.com/keystone-commerce/keystone/internal/auth/redisstore"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := redisstore.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newReset(t *testing.T, userID ulid.ULID, ttl time.Duration) *auth.ResetToken {
	t.Helper()
	_, hash, err := auth.GenerateResetToken()
	require.NoError(t, err)
	reset, err := auth.NewResetToken(userID, hash, time.Now().Add(ttl))
	require.NoError(t, err)
	return reset
}

func TestResetTokenRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)
	repo := redisstore.NewResetTokenRepository(client)
	userID := ulid.Make()

	first := newReset(t, userID, time.Hour)
	require.NoError(t, repo.Replace(ctx, first))

	got, err := repo.GetByTokenHash(ctx, first.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, userID, got.UserID)
	assert.WithinDuration(t, first.ExpiresAt, got.ExpiresAt, time.Millisecond)

	ttl, err := client.TTL(ctx, "keystone:reset:token:"+first.TokenHash).Result()
	require.NoError(t, err)
	assert.InDelta(t, (2 * time.Hour).Seconds(), ttl.Seconds(), 5, "lifetime plus one hour of retention")

	second := newReset(t, userID, time.Hour)
	require.NoError(t, repo.Replace(ctx, second))

	_, err = repo.GetByTokenHash(ctx, first.TokenHash)
	assert.ErrorIs(t, err, auth.ErrNotFound, "replace must retire the previous token")

	require.NoError(t, repo.Delete(ctx, second.ID))
	_, err = repo.GetByTokenHash(ctx, second.TokenHash)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	err = repo.Delete(ctx, second.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	exists, err := client.Exists(ctx, "keystone:reset:user:"+userID.String()).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestResetTokenRepository_DeleteByUser(t *testing.T) {
	ctx := context.Background()
	repo := redisstore.NewResetTokenRepository(startRedis(t))
	userID := ulid.Make()

	reset := newReset(t, userID, time.Hour)
	require.NoError(t, repo.Replace(ctx, reset))
	require.NoError(t, repo.DeleteByUser(ctx, userID))
	require.NoError(t, repo.DeleteByUser(ctx, userID))

	_, err := repo.GetByTokenHash(ctx, reset.TokenHash)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestResetTokenRepository_ConcurrentReplaceLeavesOne(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)
	repo := redisstore.NewResetTokenRepository(client)
	userID := ulid.Make()

	resets := make([]*auth.ResetToken, 8)
	for i := range resets {
		resets[i] = newReset(t, userID, time.Hour)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(resets))
	for i, reset := range resets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = repo.Replace(ctx, reset)
		}()
	}
	wg.Wait()

	live := 0
	for i, reset := range resets {
		if errs[i] != nil {
			continue
		}
		if _, err := repo.GetByTokenHash(ctx, reset.TokenHash); err == nil {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

type linkCapture struct {
	mu   sync.Mutex
	link string
}

func (c *linkCapture) NotifyPasswordReset(_ context.Context, _, resetURL string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = resetURL
}

func (c *linkCapture) token(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	u, err := url.Parse(c.link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestResetTokenRepository_ExpiredTokenReportedAsExpired(t *testing.T) {
	ctx := context.Background()
	users := memstore.New()
	u, err := auth.NewUser("Ada", "ada@example.com", "$argon2id$old", auth.RoleCustomer)
	require.NoError(t, err)
	require.NoError(t, users.Create(ctx, u))

	now := time.Now()
	clock := func() time.Time { return now }
	links := &linkCapture{}
	m, err := auth.NewResetTokenManager(
		users,
		redisstore.NewResetTokenRepository(startRedis(t)),
		links,
		auth.ResetConfig{BaseURL: "https://shop.example.com/reset"},
		auth.WithClock(clock),
	)
	require.NoError(t, err)

	require.NoError(t, m.Request(ctx, u.Email))
	token := links.token(t)
	require.NotEmpty(t, token)

	now = now.Add(auth.DefaultResetTokenTTL + time.Minute)

	err = m.Consume(ctx, token, "$argon2id$new")
	assert.ErrorIs(t, err, auth.ErrTokenExpired)

	ok, err := m.Validate(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$old", got.PasswordHash)
}
