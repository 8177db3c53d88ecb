// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

// Package memstore provides in-memory implementations of the auth repositories.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keystone-commerce/keystone/internal/auth"
)

// Store holds users and reset tokens behind a single mutex, so every
// operation, including Replace, is atomic.
type Store struct {
	mu sync.RWMutex

	users   map[ulid.ULID]auth.User
	byEmail map[string]ulid.ULID

	resets      map[ulid.ULID]auth.ResetToken
	resetByHash map[string]ulid.ULID
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[ulid.ULID]auth.User),
		byEmail:     make(map[string]ulid.ULID),
		resets:      make(map[ulid.ULID]auth.ResetToken),
		resetByHash: make(map[string]ulid.ULID),
	}
}

// Create stores a new user.
func (s *Store) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return oops.Code("USER_DUPLICATE_EMAIL").With("email", user.Email).Wrap(auth.ErrDuplicateEmail)
	}
	s.users[user.ID] = *user
	s.byEmail[user.Email] = user.ID
	return nil
}

// GetByEmail retrieves a user by exact email.
func (s *Store) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrUserNotFound)
	}
	u := s.users[id]
	return &u, nil
}

// GetByID retrieves a user by ID.
func (s *Store) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrUserNotFound)
	}
	return &u, nil
}

// ExistsByEmail reports whether a user with the email exists.
func (s *Store) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byEmail[email]
	return ok, nil
}

// Save writes the mutable fields of an existing user.
func (s *Store) Save(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrUserNotFound)
	}
	cur.Name = user.Name
	cur.Role = user.Role
	cur.Profile = user.Profile
	cur.UpdatedAt = user.UpdatedAt
	s.users[user.ID] = cur
	return nil
}

// UpdatePassword replaces a user's password hash.
func (s *Store) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrUserNotFound)
	}
	cur.PasswordHash = passwordHash
	cur.UpdatedAt = time.Now().UTC()
	s.users[id] = cur
	return nil
}

// Replace drops the user's existing reset records and stores reset.
func (s *Store) Replace(_ context.Context, reset *auth.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[reset.UserID]; !ok {
		return oops.Code("USER_NOT_FOUND").With("id", reset.UserID.String()).Wrap(auth.ErrUserNotFound)
	}
	s.deleteByUserLocked(reset.UserID)
	s.resets[reset.ID] = *reset
	s.resetByHash[reset.TokenHash] = reset.ID
	return nil
}

// GetByTokenHash retrieves a reset record by its token hash.
func (s *Store) GetByTokenHash(_ context.Context, tokenHash string) (*auth.ResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.resetByHash[tokenHash]
	if !ok {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	r := s.resets[id]
	return &r, nil
}

// Delete removes a reset record.
func (s *Store) Delete(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resets[id]
	if !ok {
		return oops.Code("RESET_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(s.resets, id)
	delete(s.resetByHash, r.TokenHash)
	return nil
}

// DeleteByUser removes every reset record owned by userID.
func (s *Store) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteByUserLocked(userID)
	return nil
}

// DeleteExpired removes reset records expired at now.
func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.resets {
		if r.IsExpired(now) {
			delete(s.resets, id)
			delete(s.resetByHash, r.TokenHash)
			n++
		}
	}
	return n, nil
}

// LiveResets returns the number of reset records owned by userID.
func (s *Store) LiveResets(userID ulid.ULID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.resets {
		if r.UserID == userID {
			n++
		}
	}
	return n
}

func (s *Store) deleteByUserLocked(userID ulid.ULID) {
	for id, r := range s.resets {
		if r.UserID == userID {
			delete(s.resets, id)
			delete(s.resetByHash, r.TokenHash)
		}
	}
}

var (
	_ auth.UserRepository       = (*Store)(nil)
	_ auth.ResetTokenRepository = (*Store)(nil)
)
