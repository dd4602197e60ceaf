// Package migrations carries the schema of both record stores and applies it
// with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Up applies every pending migration. An up-to-date schema is not an error.
func Up(driver, dsn string) error {
	m, err := open(driver, dsn)
	if err != nil {
		return err
	}
	defer closeQuietly(m)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the latest migration only.
func Down(driver, dsn string) error {
	m, err := open(driver, dsn)
	if err != nil {
		return err
	}
	defer closeQuietly(m)
	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version reports the applied version; zero when nothing was applied yet.
func Version(driver, dsn string) (uint, bool, error) {
	m, err := open(driver, dsn)
	if err != nil {
		return 0, false, err
	}
	defer closeQuietly(m)
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrate version: %w", err)
	}
	return v, dirty, nil
}

// UpSQLite migrates an already open SQLite handle. The handle stays open.
func UpSQLite(db *sql.DB) error {
	src, err := iofs.New(files, DriverSQLite)
	if err != nil {
		return err
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrate sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, DriverSQLite, drv)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func open(driver, dsn string) (*migrate.Migrate, error) {
	dbURL, err := databaseURL(driver, dsn)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, driver)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("open migrations for %s: %w", driver, err)
	}
	return m, nil
}

// databaseURL rewrites the configured DSN into the scheme the migrate
// driver is registered under.
func databaseURL(driver, dsn string) (string, error) {
	switch driver {
	case DriverPostgres:
		for _, p := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, p) {
				return "pgx://" + strings.TrimPrefix(dsn, p), nil
			}
		}
		return "", fmt.Errorf("postgres dsn must be a postgres:// url")
	case DriverSQLite:
		return "sqlite://" + strings.TrimPrefix(dsn, "file:"), nil
	default:
		return "", fmt.Errorf("unknown database driver %q", driver)
	}
}

func closeQuietly(m *migrate.Migrate) {
	_, _ = m.Close()
}
