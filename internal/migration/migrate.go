package migration

import (
	"database/sql"
	"embed"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// Embed SQL files from the local migrations folder
//
//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations provisions the engine's own state tables (workers,
// migration jobs, notifications) in the sync schema.
func RunMigrations(dbURL string, logger zerolog.Logger) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()

	// Ensure the sync schema exists before running migrations
	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS sync"); err != nil {
		logger.Fatal().Err(err).Msg("failed to create schema sync")
	}

	goose.SetBaseFS(embeddedMigrations)
	goose.SetTableName("sync.goose_db_version")

	if err := goose.Up(db, "migrations"); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	logger.Info().Msg("Migrations completed successfully")
}

// GooseAdapter routes goose's log output through zerolog.
type GooseAdapter struct {
	logger zerolog.Logger
}

func NewGooseAdapter(logger zerolog.Logger) *GooseAdapter {
	return &GooseAdapter{logger: logger.With().Str("component", "goose").Logger()}
}

func (a *GooseAdapter) Fatalf(format string, v ...any) {
	a.logger.Fatal().Msgf(format, v...)
}

func (a *GooseAdapter) Printf(format string, v ...any) {
	a.logger.Info().Msgf(format, v...)
}
