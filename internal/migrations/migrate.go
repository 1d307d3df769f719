package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pg "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

const (
	migrationsTable = "schema_migrations_migrate"

	// baselineVersion is the migration that creates game_sessions.
	baselineVersion = 1
)

// Run applies the embedded migrations for the dialect of db.
// A Postgres database that already has the schema but no migrate metadata is
// baselined to the initial migration; later migrations still apply.
func Run(db *sqlx.DB, log logrus.FieldLogger) error {
	dialect := db.DriverName()

	src, err := iofs.New(files, dialect)
	if err != nil {
		return fmt.Errorf("failed to open %s migrations: %w", dialect, err)
	}

	var driver database.Driver
	switch dialect {
	case "postgres":
		driver, err = pg.WithInstance(db.DB, &pg.Config{MigrationsTable: migrationsTable})
	case "sqlite":
		driver, err = sqlitemigrate.WithInstance(db.DB, &sqlitemigrate.Config{MigrationsTable: migrationsTable})
	default:
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Closing the sqlite driver closes the shared *sql.DB, so only postgres
	// releases its dedicated connection here.
	if dialect == "postgres" {
		defer m.Close()
		baseline(db.DB, m, log)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	log.WithField("dialect", dialect).Info("Migrations applied (no changes or up completed)")
	return nil
}

func baseline(db *sql.DB, m *migrate.Migrate, log logrus.FieldLogger) {
	var schemaExists bool
	row := db.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name='game_sessions')")
	if err := row.Scan(&schemaExists); err != nil || !schemaExists {
		return
	}

	var migrateTableExists bool
	row = db.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", migrationsTable)
	if err := row.Scan(&migrateTableExists); err != nil || migrateTableExists {
		return
	}

	log.Infof("Baseline DB to version %d (existing schema present)", baselineVersion)
	if err := m.Force(baselineVersion); err != nil {
		log.WithError(err).Warnf("Force to version %d failed", baselineVersion)
	}
}
