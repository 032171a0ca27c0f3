package journal

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/cuemby/stairway/pkg/stairwayerr"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the schema in migrations/ to the database at
// dataSourceName, per the Recovery Coordinator's initialize(migrate) step.
//
// golang-migrate's "sqlite3" database driver requires the cgo mattn/
// go-sqlite3 package; it cannot drive modernc.org/sqlite's pure-Go
// connection. For driverName "sqlite" we apply the embedded migration
// directly instead (the schema is idempotent CREATE TABLE IF NOT EXISTS,
// so re-applying on every startup is safe). For "pgx" we open a separate
// *sql.DB with pgx's stdlib driver and drive golang-migrate's postgres
// package against it, since pgx speaks the same wire protocol
// golang-migrate expects.
func Migrate(driverName, dataSourceName string) error {
	switch driverName {
	case "pgx":
		return migratePostgres(dataSourceName)
	case "sqlite":
		return migrateSQLiteDirect(dataSourceName)
	default:
		return fmt.Errorf("%w: unsupported driver %q", stairwayerr.ErrMigrate, driverName)
	}
}

func migratePostgres(dataSourceName string) error {
	db, err := sql.Open("pgx", dataSourceName)
	if err != nil {
		return fmt.Errorf("%w: %v", stairwayerr.ErrMigrate, err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("%w: %v", stairwayerr.ErrMigrate, err)
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: %v", stairwayerr.ErrMigrate, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("%w: %v", stairwayerr.ErrMigrate, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: %v", stairwayerr.ErrMigrate, err)
	}
	return nil
}

func migrateSQLiteDirect(dataSourceName string) error {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return fmt.Errorf("%w: %v", stairwayerr.ErrMigrate, err)
	}
	defer db.Close()

	schema, err := migrationFS.ReadFile("migrations/0001_init.up.sql")
	if err != nil {
		return fmt.Errorf("%w: %v", stairwayerr.ErrMigrate, err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		return fmt.Errorf("%w: %v", stairwayerr.ErrMigrate, err)
	}
	return nil
}
