package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranalink/khata/internal/domain"
)

// ─── Ledger Operations ──────────────────────────────────────────────────────

// AppendEntry records a new immutable ledger entry and returns its ID.
func (db *DB) AppendEntry(ctx context.Context, e domain.LedgerEntry) (int64, error) {
	res, err := db.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (customer_id, shop_id, amount, kind, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, e.CustomerID, e.ShopID, e.Amount, string(e.Kind), e.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("append ledger entry: %w", err)
	}
	return res.LastInsertId()
}

// EntriesByCustomer returns all entries for a customer, ascending by
// timestamp.
func (db *DB) EntriesByCustomer(ctx context.Context, customerID string) ([]domain.LedgerEntry, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, customer_id, shop_id, amount, kind, timestamp
		FROM ledger_entries WHERE customer_id = ?
		ORDER BY timestamp ASC, id ASC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query ledger for %s: %w", customerID, err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind, ts string
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.ShopID, &e.Amount, &kind, &ts); err != nil {
			return nil, err
		}
		e.Kind = domain.EntryKind(kind)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
