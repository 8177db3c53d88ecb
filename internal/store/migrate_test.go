// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-commerce/keystone/pkg/errutil"
)

type fakeMigrate struct {
	upErr, downErr, stepsErr, forceErr error
	version                            uint
	dirty                              bool
	versionErr                         error
	closeSrcErr, closeDBErr            error

	steps  []int
	forced []int
}

func (f *fakeMigrate) Up() error   { return f.upErr }
func (f *fakeMigrate) Down() error { return f.downErr }
func (f *fakeMigrate) Steps(n int) error {
	f.steps = append(f.steps, n)
	return f.stepsErr
}
func (f *fakeMigrate) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }
func (f *fakeMigrate) Force(v int) error {
	f.forced = append(f.forced, v)
	return f.forceErr
}
func (f *fakeMigrate) Close() (error, error) { return f.closeSrcErr, f.closeDBErr }

func TestNewMigrator_RejectsUnknownScheme(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/keystone")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestPgxURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@db:5432/keystone", "pgx5://u:p@db:5432/keystone"},
		{"postgresql://db/keystone?sslmode=disable", "pgx5://db/keystone?sslmode=disable"},
		{"pgx5://db/keystone", "pgx5://db/keystone"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, pgxURL(tt.in))
		})
	}
}

func TestMigrator_ErrNoChangeIsSuccess(t *testing.T) {
	f := &fakeMigrate{upErr: migrate.ErrNoChange, downErr: migrate.ErrNoChange, stepsErr: migrate.ErrNoChange}
	m := &Migrator{m: f}

	assert.NoError(t, m.Up())
	assert.NoError(t, m.Down())
	assert.NoError(t, m.Steps(1))
}

func TestMigrator_WrapsFailures(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeMigrate{upErr: boom, downErr: boom, stepsErr: boom, forceErr: boom, versionErr: boom}
	m := &Migrator{m: f}

	tests := []struct {
		name string
		call func() error
		code string
	}{
		{"up", m.Up, "MIGRATION_UP_FAILED"},
		{"down", m.Down, "MIGRATION_DOWN_FAILED"},
		{"steps", func() error { return m.Steps(-1) }, "MIGRATION_STEPS_FAILED"},
		{"force", func() error { return m.Force(1) }, "MIGRATION_FORCE_FAILED"},
		{"version", func() error { _, _, err := m.Version(); return err }, "MIGRATION_VERSION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestMigrator_StepsZeroSkipsDriver(t *testing.T) {
	f := &fakeMigrate{}
	m := &Migrator{m: f}

	require.NoError(t, m.Steps(0))
	assert.Empty(t, f.steps)
}

func TestMigrator_Version(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{version: 2, dirty: true}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(2), v)
		assert.True(t, dirty)
	})

	t.Run("fresh database", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Zero(t, v)
		assert.False(t, dirty)
	})
}

func TestMigrator_ForceRejectsNegative(t *testing.T) {
	f := &fakeMigrate{}
	m := &Migrator{m: f}

	err := m.Force(-1)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
	assert.Empty(t, f.forced)
}

func TestMigrator_Close(t *testing.T) {
	srcErr := errors.New("source")
	dbErr := errors.New("database")

	assert.NoError(t, (&Migrator{m: &fakeMigrate{}}).Close())

	err := (&Migrator{m: &fakeMigrate{closeSrcErr: srcErr, closeDBErr: dbErr}}).Close()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	assert.ErrorIs(t, err, srcErr)
	assert.ErrorIs(t, err, dbErr)
}

func TestMigrator_PendingAndApplied(t *testing.T) {
	tests := []struct {
		name    string
		version uint
		pending []uint
		applied []uint
	}{
		{"fresh", 0, []uint{1, 2}, []uint{}},
		{"partial", 1, []uint{2}, []uint{1}},
		{"current", 2, []uint{}, []uint{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: &fakeMigrate{version: tt.version}}

			pending, err := m.PendingMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.pending, pending)

			applied, err := m.AppliedMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.applied, applied)
		})
	}
}

func TestMigrator_PendingPropagatesVersionError(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{versionErr: errors.New("down")}}

	_, err := m.PendingMigrations()
	errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")

	_, err = m.AppliedMigrations()
	errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
}

func TestMigrationName(t *testing.T) {
	assert.Equal(t, "create_users", MigrationName(1))
	assert.Equal(t, "create_password_resets", MigrationName(2))
	assert.Empty(t, MigrationName(999))
}
