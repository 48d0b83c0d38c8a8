// Package sqlite is the embedded single-file store driver.
package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/aussiebroadwan/fintab/internal/auth/store/drivers/sqldb"
	"github.com/aussiebroadwan/fintab/internal/auth/store/drivers/sqlite/migrations"
)

// Dialect is the sqlite flavour of sqldb.
var Dialect = sqldb.Dialect{
	Name:              "sqlite",
	IsUniqueViolation: isUniqueViolation,
	Migrate:           migrateUp,
}

// NewStore opens (or creates) the database at dsn. A bare path is expanded
// into a DSN with busy timeout, WAL and foreign keys enabled.
func NewStore(dsn string) (*sqldb.Store, error) {
	db, err := sql.Open("sqlite", DSN(dsn))
	if err != nil {
		return nil, err
	}

	// One writer at a time, sqlite serialises them anyway.
	db.SetMaxOpenConns(1)

	return sqldb.New(db, Dialect), nil
}

// DSN expands a path into a modernc DSN. Times are written in the sqlite
// format so that text comparison orders them. Values that already carry query
// parameters are returned unchanged.
func DSN(path string) string {
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "sqlite:")
	if strings.Contains(path, "?") {
		return path
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite"
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// migrateUp applies the embedded migration files compiled into the binary.
func migrateUp(db *sql.DB) error {
	// 1. Create the SQLite migration driver
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	// 2. Create the iofs (embedded filesystem) source driver
	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	// 3. Create the migrate instance and apply all up migrations
	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
