package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
)

// migrationsTable records applied schema versions.
const migrationsTable = "genquota_schema_migrations"

//go:embed migrations/*.sql
var migrationFS embed.FS

// runMigrations applies every pending migration through a database/sql view
// of the pool. Closing that view leaves the pool open.
func (s *Store) runMigrations() error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("genquota/postgres: open migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return fmt.Errorf("genquota/postgres: create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = driver.Close() //nolint:errcheck // already failing
		return fmt.Errorf("genquota/postgres: create migrator: %w", err)
	}
	defer migrator.Close() //nolint:errcheck // source and driver only

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("genquota/postgres: apply migrations: %w", err)
	}
	return nil
}
