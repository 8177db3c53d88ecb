// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package auth_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keystone-commerce/keystone/internal/auth"
	"github.com/keystone-commerce/keystone/internal/auth/memstore"
)

const resetBaseURL = "https://shop.example.com/reset-password"

// sentLink is one reset link captured by recordingNotifier.
type sentLink struct {
	Email     string
	URL       string
	ExpiresIn time.Duration
}

type recordingNotifier struct {
	mu    sync.Mutex
	links []sentLink
}

func (n *recordingNotifier) NotifyPasswordReset(_ context.Context, email, resetURL string, expiresIn time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, sentLink{Email: email, URL: resetURL, ExpiresIn: expiresIn})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.links)
}

// lastToken extracts the token query parameter of the most recent link.
func (n *recordingNotifier) lastToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.links, "no reset link sent")
	u, err := url.Parse(n.links[len(n.links)-1].URL)
	require.NoError(t, err)
	return u.Query().Get("token")
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Now()} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) RecordAuthOperation(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[op+"/"+outcome]++
}

func (m *countingMetrics) get(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// fixture wires a Coordinator over the in-memory store.
type fixture struct {
	store    *memstore.Store
	notifier *recordingNotifier
	clock    *clock
	issuer   *auth.JWTIssuer
	resets   *auth.ResetTokenManager
	coord    *auth.Coordinator
	metrics  *countingMetrics
}

func newFixture(t *testing.T, cfg auth.CoordinatorConfig) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		notifier: &recordingNotifier{},
		clock:    newClock(),
		metrics:  &countingMetrics{},
	}
	f.issuer = newIssuer(t).WithClock(f.clock.Now)

	var err error
	f.resets, err = auth.NewResetTokenManager(f.store, f.store, f.notifier,
		auth.ResetConfig{BaseURL: resetBaseURL}, auth.WithClock(f.clock.Now))
	require.NoError(t, err)

	f.coord, err = auth.NewCoordinator(f.store, f.issuer, f.resets,
		auth.NewArgon2idHasherWithParams(cheapParams), cfg, auth.WithMetrics(f.metrics))
	require.NoError(t, err)
	return f
}

// mockUserRepo is a testify mock of auth.UserRepository for failure paths.
type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepo) Save(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id ulid.ULID, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

// mockResetRepo is a testify mock of auth.ResetTokenRepository.
type mockResetRepo struct {
	mock.Mock
}

func (m *mockResetRepo) Replace(ctx context.Context, reset *auth.ResetToken) error {
	return m.Called(ctx, reset).Error(0)
}

func (m *mockResetRepo) GetByTokenHash(ctx context.Context, hash string) (*auth.ResetToken, error) {
	args := m.Called(ctx, hash)
	r, _ := args.Get(0).(*auth.ResetToken)
	return r, args.Error(1)
}

func (m *mockResetRepo) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockResetRepo) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockResetRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}
