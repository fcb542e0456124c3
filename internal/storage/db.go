// Package storage provides the relational storage layer for ThreatVeil.
//
// It runs on PostgreSQL in production and on embedded SQLite in development
// and tests. Queries are written once in Postgres placeholder style and
// rebound for SQLite; the schema sticks to portable types (TEXT, INTEGER,
// TIMESTAMP, JSON-as-TEXT) and all timestamps are set in Go, in UTC.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies which database backend a DB talks to.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB wraps a database/sql pool with dialect-aware query rebinding.
type DB struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to Postgres when databaseURL is set, otherwise to the
// embedded SQLite database at sqlitePath. Use ":memory:" for an in-memory
// database in tests.
func Open(ctx context.Context, databaseURL, sqlitePath string, logger *slog.Logger) (*DB, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	if databaseURL != "" {
		db, err = sql.Open("pgx", databaseURL)
		dialect = DialectPostgres
	} else {
		dsn := sqlitePath
		if dsn != ":memory:" {
			dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		}
		db, err = sql.Open("sqlite", dsn)
		dialect = DialectSQLite
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	if dialect == DialectSQLite {
		// modernc sqlite serializes writes; a single connection avoids
		// SQLITE_BUSY between pool connections and keeps :memory: databases
		// from silently forking per connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	return &DB{db: db, dialect: dialect, logger: logger}, nil
}

// Dialect returns the active backend.
func (db *DB) Dialect() Dialect { return db.dialect }

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() error {
	return db.db.Close()
}

// rebind converts $N placeholders to ? for SQLite. Queries must use
// placeholders in ascending order without reuse.
func (db *DB) rebind(query string) string {
	if db.dialect == DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.db.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.db.QueryRowContext(ctx, db.rebind(query), args...)
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. The transaction is handed to fn wrapped so queries still
// get rebound for the active dialect. Serialization failures, deadlocks,
// and SQLite busy errors roll the transaction back and re-run fn.
func (db *DB) withTx(ctx context.Context, fn func(tx *Tx) error) error {
	return WithRetry(ctx, txRetries, txRetryBase, func() error {
		sqlTx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage: begin tx: %w", err)
		}
		tx := &Tx{tx: sqlTx, db: db}
		if err := fn(tx); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("storage: commit tx: %w", err)
		}
		return nil
	})
}

// Tx is a dialect-aware transaction handle.
type Tx struct {
	tx *sql.Tx
	db *DB
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.db.rebind(query), args...)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.db.rebind(query), args...)
}
