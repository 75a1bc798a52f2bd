package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"

	"github.com/autoanalyse/carscout/internal/repository"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Repository is the SQLite-backed implementation of repository.Store. It
// holds the database handle and a logger instance for storage operations.
type Repository struct {
	db  *sql.DB
	log *slog.Logger
}

var _ repository.Store = (*Repository)(nil)

// NewRepository opens (or creates) the database file at storagePath,
// verifies the connection and applies pending schema migrations.
func NewRepository(ctx context.Context, log *slog.Logger, storagePath string) (*Repository, error) {
	dtb, err := sql.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on&_loc=UTC", storagePath))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Check if the connection is actually established.
	if err = dtb.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("unable to establish connection to database: %w", err)
	}

	if err = runMigrations(dtb); err != nil {
		return nil, fmt.Errorf("DB schema migration error: %w", err)
	}

	return &Repository{db: dtb, log: log}, nil
}

// runMigrations applies all pending migrations from the embedded FS.
func runMigrations(dtb *sql.DB) error {
	driver, err := migratesqlite.WithInstance(dtb, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// NewForTest wraps an existing database handle without running migrations.
// It exists for unit tests that use a mocked connection.
func NewForTest(dtb *sql.DB) *Repository {
	return &Repository{db: dtb, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Close closes the connection to the database.
func (r *Repository) Close() error {
	if err := r.db.Close(); err != nil {
		r.log.Error("failed to close the database", "op", "repository.sqlite.Close", "error", err)
		return fmt.Errorf("failed to close the database: %w", err)
	}

	return nil
}

// DB is a getter for database handler.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// wrapErr classifies constraint failures so callers can match them with
// repository.ErrConstraintViolated.
func wrapErr(opn string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w: %v", opn, repository.ErrConstraintViolated, err)
	}
	return fmt.Errorf("%s: %w", opn, err)
}
