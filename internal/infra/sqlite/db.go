// Package sqlite persists customers, khata ledger entries, and
// collections invoices in a single embedded database file.
//
// Timestamps are stored as RFC 3339 text. Invoice writes go through an
// optimistic-concurrency UPDATE keyed on the version column.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the underlying connection with khata-specific operations.
type DB struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies
// all schema migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time keeps the embedded engine honest under the
	// scheduler's concurrent passes.
	conn.SetMaxOpenConns(1)

	db := &DB{db: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.db.Close()
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements. Each string is a single SQL
// statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS customers (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			phone             TEXT NOT NULL DEFAULT '',
			email             TEXT NOT NULL DEFAULT '',
			khata_score       INTEGER NOT NULL DEFAULT 600,
			khata_limit       INTEGER NOT NULL DEFAULT 3000,
			last_score_update TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id TEXT NOT NULL,
			shop_id     TEXT NOT NULL DEFAULT '',
			amount      INTEGER NOT NULL,
			kind        TEXT NOT NULL CHECK(kind IN ('debit', 'credit')),
			timestamp   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_customer ON ledger_entries(customer_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS invoices (
			id                TEXT PRIMARY KEY,
			customer_name     TEXT NOT NULL,
			customer_phone    TEXT NOT NULL DEFAULT '',
			customer_email    TEXT NOT NULL DEFAULT '',
			amount            INTEGER NOT NULL,
			due_date          TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'unpaid',
			reminder_level    INTEGER NOT NULL DEFAULT 0,
			last_contacted_at TEXT,
			payment_link      TEXT NOT NULL DEFAULT '',
			promised_until    TEXT,
			version           INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status, due_date)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_phone ON invoices(customer_phone)`,

		`CREATE TABLE IF NOT EXISTS reminder_history (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			invoice_id      TEXT NOT NULL,
			timestamp       TEXT NOT NULL,
			channel         TEXT NOT NULL,
			content         TEXT NOT NULL,
			delivery_status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_invoice ON reminder_history(invoice_id, timestamp)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
