// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

// Package store owns the PostgreSQL schema and connection setup for Keystone.
package store

import (
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateIface is the subset of *migrate.Migrate the Migrator drives.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m migrateIface
}

// NewMigrator opens a migrator against databaseURL. postgres:// and
// postgresql:// URLs are accepted and routed to the pgx driver.
func NewMigrator(databaseURL string) (*Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_INIT_FAILED").Wrapf(err, "open embedded migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, pgxURL(databaseURL))
	if err != nil {
		_ = src.Close()
		return nil, oops.Code("MIGRATION_INIT_FAILED").Wrapf(err, "open migration target")
	}
	return &Migrator{m: m}, nil
}

func pgxURL(databaseURL string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// Up applies every pending migration. Being current is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls back every applied migration.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps moves n migrations forward (n > 0) or back (n < 0).
func (m *Migrator) Steps(n int) error {
	if n == 0 {
		return nil
	}
	if err := m.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Version reports the applied version and whether the last run left the
// schema dirty. A database with no migrations reports 0.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return v, dirty, nil
}

// Force records version as applied and clears the dirty flag without
// running any SQL.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").With("version", version).Errorf("version must be non-negative")
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// PendingMigrations lists embedded versions newer than the applied one.
func (m *Migrator) PendingMigrations() ([]uint, error) {
	current, _, err := m.Version()
	if err != nil {
		return nil, err
	}
	return filterVersions(func(v uint) bool { return v > current })
}

// AppliedMigrations lists embedded versions up to and including the applied one.
func (m *Migrator) AppliedMigrations() ([]uint, error) {
	current, _, err := m.Version()
	if err != nil {
		return nil, err
	}
	return filterVersions(func(v uint) bool { return v <= current })
}

func filterVersions(keep func(uint) bool) ([]uint, error) {
	c, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	out := make([]uint, 0, len(c.versions))
	for _, v := range c.versions {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// MigrationName returns the identifier of an embedded migration, or "" when
// the version is unknown.
func MigrationName(version uint) string {
	c, err := loadCatalog()
	if err != nil {
		return ""
	}
	return c.names[version]
}

type catalog struct {
	versions []uint
	names    map[uint]string
}

var loadCatalog = sync.OnceValues(func() (catalog, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return catalog{}, oops.Code("MIGRATION_CATALOG_FAILED").Wrap(err)
	}

	c := catalog{names: make(map[uint]string)}
	for _, e := range entries {
		mig, err := source.Parse(e.Name())
		if err != nil {
			slog.Warn("skipping malformed migration file", "file", e.Name(), "error", err)
			continue
		}
		if mig.Direction != source.Up {
			continue
		}
		c.names[mig.Version] = mig.Identifier
		c.versions = append(c.versions, mig.Version)
	}
	sort.Slice(c.versions, func(i, j int) bool { return c.versions[i] < c.versions[j] })
	return c, nil
})
