// Package persistence provides SQL-backed record drivers. SQLite is the
// single-file default for deployments that want a database instead of the
// TSV file; PostgreSQL serves shared deployments.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/clickgram/internal/base"
)

// Dialect selects the SQL flavour and the database/sql driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	recordsTable     = "records"
	operationTimeout = 5 * time.Second
)

// SQLDriver stores records in a single table ordered by position.
type SQLDriver struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string) (*SQLDriver, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return newSQLDriver(db, DialectSQLite)
}

// OpenPostgres connects to the PostgreSQL database named by dsn.
func OpenPostgres(dsn string) (*SQLDriver, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLDriver(db, DialectPostgres)
}

func newSQLDriver(db *sql.DB, dialect Dialect) (*SQLDriver, error) {
	d := &SQLDriver{db: db, dialect: dialect}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	if dialect == DialectSQLite {
		if err := d.configurePragmas(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := d.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *SQLDriver) Dialect() Dialect { return d.dialect }

func (d *SQLDriver) Close() error {
	return d.db.Close()
}

func (d *SQLDriver) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := d.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (d *SQLDriver) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			position INTEGER PRIMARY KEY,
			chat TEXT NOT NULL,
			task TEXT NOT NULL,
			account TEXT NOT NULL DEFAULT ''
		)`, quoteIdentifier(recordsTable))
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	return nil
}

// Load returns all records ordered by position.
func (d *SQLDriver) Load(ctx context.Context) ([]base.Record, error) {
	query := fmt.Sprintf("SELECT chat, task, account FROM %s ORDER BY position", quoteIdentifier(recordsTable))
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []base.Record
	for rows.Next() {
		var r base.Record
		if err := rows.Scan(&r.Chat, &r.Task, &r.Account); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Save replaces the table contents in one transaction. Empty input leaves
// the table untouched and reports false.
func (d *SQLDriver) Save(ctx context.Context, records []base.Record) (bool, error) {
	if len(records) == 0 {
		return false, nil
	}
	err := retryOnBusy(ctx, 5, func() error {
		return d.replaceAll(ctx, records)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLDriver) replaceAll(ctx context.Context, records []base.Record) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	table := quoteIdentifier(recordsTable)
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	insert := fmt.Sprintf("INSERT INTO %s (position, chat, task, account) VALUES (%s)",
		table, d.placeholders(4))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, i, r.Chat, r.Task, r.Account); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

func (d *SQLDriver) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		if d.dialect == DialectPostgres {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// retryOnBusy retries f when SQLite reports BUSY or LOCKED, backing off
// exponentially with jitter.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) || attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
