package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed *.sql
var migrationFiles embed.FS

// Run applies all pending migrations. SQL files are embedded so callers and
// tests never depend on the working directory.
func Run(db *sql.DB, logger zerolog.Logger) error {
	source, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite3 driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	logger.Info().Msg("Running database migrations")
	err = m.Up()
	switch {
	case err == nil:
		logger.Info().Msg("Database migrations applied successfully")
	case err == migrate.ErrNoChange:
		logger.Info().Msg("Database is already up to date")
	default:
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
