package migrator

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/andreyxaxa/Event-Queue/migrations"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres:// driver
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// UpPostgres applies the embedded postgres migrations to the database at url.
func UpPostgres(url string) error {
	m, err := postgresMigrate(url)
	if err != nil {
		return fmt.Errorf("migrator - UpPostgres - %w", err)
	}
	defer m.Close()

	return up(m)
}

// DownPostgres reverts every embedded postgres migration.
func DownPostgres(url string) error {
	m, err := postgresMigrate(url)
	if err != nil {
		return fmt.Errorf("migrator - DownPostgres - %w", err)
	}
	defer m.Close()

	return down(m)
}

// UpSQLite applies the embedded sqlite migrations through an already open db.
// The db stays open: closing the migrate instance would close it too.
func UpSQLite(db *sql.DB) error {
	m, err := sqliteMigrate(db)
	if err != nil {
		return fmt.Errorf("migrator - UpSQLite - %w", err)
	}

	return up(m)
}

func DownSQLite(db *sql.DB) error {
	m, err := sqliteMigrate(db)
	if err != nil {
		return fmt.Errorf("migrator - DownSQLite - %w", err)
	}

	return down(m)
}

func postgresMigrate(url string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, migrations.PostgresDir)
	if err != nil {
		return nil, fmt.Errorf("iofs.New: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("migrate.NewWithSourceInstance: %w", err)
	}

	return m, nil
}

func sqliteMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, migrations.SQLiteDir)
	if err != nil {
		return nil, fmt.Errorf("iofs.New: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite3.WithInstance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate.NewWithInstance: %w", err)
	}

	return m, nil
}

func up(m *migrate.Migrate) error {
	err := m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrator - m.Up: %w", err)
	}

	return nil
}

func down(m *migrate.Migrate) error {
	err := m.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrator - m.Down: %w", err)
	}

	return nil
}
