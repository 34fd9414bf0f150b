package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiranalink/khata/internal/domain"
)

// ─── Invoice Operations ─────────────────────────────────────────────────────

// CreateInvoice inserts a new invoice at version 0.
func (db *DB) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO invoices (id, customer_name, customer_phone, customer_email,
			amount, due_date, status, reminder_level, last_contacted_at,
			payment_link, promised_until, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, inv.ID, inv.CustomerName, inv.CustomerPhone, inv.CustomerEmail,
		inv.Amount, inv.DueDate.UTC().Format(time.RFC3339Nano), string(inv.Status),
		inv.ReminderLevel, optTime(inv.LastContactedAt), inv.PaymentLink,
		optTime(inv.PromisedUntil))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domain.ErrInvoiceExists
		}
		return fmt.Errorf("create invoice %s: %w", inv.ID, err)
	}
	inv.Version = 0
	return nil
}

// GetInvoice retrieves an invoice with its full reminder history.
func (db *DB) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := db.queryInvoice(ctx, `
		SELECT id, customer_name, customer_phone, customer_email, amount,
			due_date, status, reminder_level, last_contacted_at,
			payment_link, promised_until, version
		FROM invoices WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	inv.History, err = db.historyFor(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// FindActiveByPhone returns the open invoice (not paid, not disputed)
// whose customer phone ends with the given digits. Suffix matching
// tolerates country-code differences between the provider's caller ID
// and what the shopkeeper typed in.
func (db *DB) FindActiveByPhone(ctx context.Context, phoneSuffix string) (*domain.Invoice, error) {
	inv, err := db.queryInvoice(ctx, `
		SELECT id, customer_name, customer_phone, customer_email, amount,
			due_date, status, reminder_level, last_contacted_at,
			payment_link, promised_until, version
		FROM invoices
		WHERE status IN ('unpaid', 'overdue', 'promised')
			AND customer_phone LIKE '%' || ?
		ORDER BY due_date ASC LIMIT 1
	`, phoneSuffix)
	if err != nil {
		return nil, err
	}
	inv.History, err = db.historyFor(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListByStatus returns invoices in any of the given statuses, ascending
// by due date. History is not loaded; fetch an individual invoice for
// its audit trail.
func (db *DB) ListByStatus(ctx context.Context, statuses ...domain.InvoiceStatus) ([]domain.Invoice, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	rows, err := db.db.QueryContext(ctx, `
		SELECT id, customer_name, customer_phone, customer_email, amount,
			due_date, status, reminder_level, last_contacted_at,
			payment_link, promised_until, version
		FROM invoices WHERE status IN (`+placeholders+`)
		ORDER BY due_date ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// UpdateInvoice writes invoice state if and only if the stored version
// matches inv.Version. On success inv.Version is advanced; a stale
// version comes back as domain.ErrVersionConflict.
func (db *DB) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE invoices SET
			customer_name     = ?,
			customer_phone    = ?,
			customer_email    = ?,
			amount            = ?,
			due_date          = ?,
			status            = ?,
			reminder_level    = ?,
			last_contacted_at = ?,
			payment_link      = ?,
			promised_until    = ?,
			version           = version + 1
		WHERE id = ? AND version = ?
	`, inv.CustomerName, inv.CustomerPhone, inv.CustomerEmail, inv.Amount,
		inv.DueDate.UTC().Format(time.RFC3339Nano), string(inv.Status),
		inv.ReminderLevel, optTime(inv.LastContactedAt), inv.PaymentLink,
		optTime(inv.PromisedUntil), inv.ID, inv.Version)
	if err != nil {
		return fmt.Errorf("update invoice %s: %w", inv.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the invoice is gone or another writer advanced the version.
		if _, getErr := db.GetInvoice(ctx, inv.ID); errors.Is(getErr, domain.ErrInvoiceNotFound) {
			return domain.ErrInvoiceNotFound
		}
		return domain.ErrVersionConflict
	}
	inv.Version++
	return nil
}

// AppendHistory appends exactly one audit entry to the invoice.
func (db *DB) AppendHistory(ctx context.Context, invoiceID string, e domain.ReminderHistoryEntry) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO reminder_history (invoice_id, timestamp, channel, content, delivery_status)
		VALUES (?, ?, ?, ?, ?)
	`, invoiceID, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Channel),
		e.Content, string(e.DeliveryStatus))
	if err != nil {
		return fmt.Errorf("append history for %s: %w", invoiceID, err)
	}
	return nil
}

// ─── Scan Helpers ───────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) queryInvoice(ctx context.Context, query string, arg any) (*domain.Invoice, error) {
	inv, err := scanInvoice(db.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query invoice: %w", err)
	}
	return inv, nil
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var status, dueStr string
	var contacted, promised sql.NullString
	if err := row.Scan(&inv.ID, &inv.CustomerName, &inv.CustomerPhone,
		&inv.CustomerEmail, &inv.Amount, &dueStr, &status, &inv.ReminderLevel,
		&contacted, &inv.PaymentLink, &promised, &inv.Version); err != nil {
		return nil, err
	}
	inv.Status = domain.InvoiceStatus(status)
	inv.DueDate, _ = time.Parse(time.RFC3339Nano, dueStr)
	inv.LastContactedAt = parseOptTime(contacted)
	inv.PromisedUntil = parseOptTime(promised)
	return &inv, nil
}

func (db *DB) historyFor(ctx context.Context, invoiceID string) ([]domain.ReminderHistoryEntry, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT timestamp, channel, content, delivery_status
		FROM reminder_history WHERE invoice_id = ?
		ORDER BY timestamp ASC, id ASC
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", invoiceID, err)
	}
	defer rows.Close()

	var out []domain.ReminderHistoryEntry
	for rows.Next() {
		var e domain.ReminderHistoryEntry
		var ts, channel, status string
		if err := rows.Scan(&ts, &channel, &e.Content, &status); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Channel = domain.Channel(channel)
		e.DeliveryStatus = domain.DeliveryStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func optTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func parseOptTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
