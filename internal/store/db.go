package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store/migrations"
)

// DB wraps a migrated sql.DB together with its dialect.
type DB struct {
	Client  *sql.DB
	Dialect Dialect
}

// NewDB opens Postgres through pgx, applies pending migrations and pings.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	d := &DB{Client: db, Dialect: PostgresDialect}
	if err := d.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// NewSQLite opens a single-node SQLite database at path.
func NewSQLite(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps insert-if-absent atomic under WAL.
	db.SetMaxOpenConns(1)

	d := &DB{Client: db, Dialect: SQLiteDialect}
	if err := d.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) init(ctx context.Context) error {
	if err := d.Client.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", d.Dialect.Name, err)
	}
	if err := migrate(ctx, d.Client, d.Dialect.Name); err != nil {
		return fmt.Errorf("migrate %s: %w", d.Dialect.Name, err)
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, dialect)
}

// Documents returns the document store backed by d.
func (d *DB) Documents() *SQLDocuments {
	return NewSQLDocuments(d.Client, d.Dialect)
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
