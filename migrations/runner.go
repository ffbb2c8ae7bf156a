package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Runner applies the embedded migrations to a PostgreSQL database.
type Runner struct {
	migrate *migrate.Migrate
	db      *sql.DB
	logger  *slog.Logger
}

// migrateLogger bridges golang-migrate's logging into slog.
type migrateLogger struct {
	logger *slog.Logger
}

var _ migrate.Logger = (*migrateLogger)(nil)

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf("migrate: "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// NewRunner opens a connection to databaseURL and prepares a migrate instance
// over the embedded migration files. migrationTable names the tracking table;
// empty means golang-migrate's default, schema_migrations.
func NewRunner(databaseURL, migrationTable string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := Validate(); err != nil {
		return nil, fmt.Errorf("embedded migrations invalid: %w", err)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: migrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(files, ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to open embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{migrate: m, db: db, logger: logger}, nil
}

// Up applies all pending migrations. An already up-to-date schema is not an
// error.
func (r *Runner) Up() error {
	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("no new migrations to apply")
	} else {
		r.logger.Info("all migrations applied")
	}

	return nil
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down() error {
	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("no migrations to roll back")
	} else {
		r.logger.Info("last migration rolled back")
	}

	return nil
}

// Version reports the current schema version. applied is false when no
// migration has ever run; dirty means a migration failed partway and needs
// manual intervention.
func (r *Runner) Version() (version uint, dirty bool, applied bool, err error) {
	version, dirty, err = r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}

	if err != nil {
		return 0, false, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, true, nil
}

// Drop removes every object in the target schema. Destructive; the CLI asks
// for confirmation before calling it.
func (r *Runner) Drop() error {
	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	return nil
}

// Close releases the migrate instance and the database connection.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		if sourceErr, dbErr := r.migrate.Close(); sourceErr != nil || dbErr != nil {
			if sourceErr != nil {
				errs = append(errs, fmt.Errorf("source close: %w", sourceErr))
			}

			if dbErr != nil {
				errs = append(errs, fmt.Errorf("database close: %w", dbErr))
			}
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connection close: %w", err))
		}
	}

	return errors.Join(errs...)
}
