package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kiranalink/khata/internal/domain"
)

// ─── Customer Operations ────────────────────────────────────────────────────

// GetCustomer retrieves a customer profile by ID.
func (db *DB) GetCustomer(ctx context.Context, id string) (*domain.CustomerProfile, error) {
	return db.queryCustomer(ctx, `
		SELECT id, name, phone, email, khata_score, khata_limit, last_score_update
		FROM customers WHERE id = ?
	`, id)
}

// GetCustomerByPhone retrieves a customer profile by exact phone match.
func (db *DB) GetCustomerByPhone(ctx context.Context, phone string) (*domain.CustomerProfile, error) {
	return db.queryCustomer(ctx, `
		SELECT id, name, phone, email, khata_score, khata_limit, last_score_update
		FROM customers WHERE phone = ?
	`, phone)
}

func (db *DB) queryCustomer(ctx context.Context, query string, arg any) (*domain.CustomerProfile, error) {
	var p domain.CustomerProfile
	var updated string
	err := db.db.QueryRowContext(ctx, query, arg).
		Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.Score, &p.CreditLimit, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	if updated != "" {
		p.LastScoreUpdate, _ = time.Parse(time.RFC3339Nano, updated)
	}
	return &p, nil
}

// UpsertCustomer inserts or updates a customer profile. Score and limit
// are only written on insert; they belong to UpdateScore afterwards.
func (db *DB) UpsertCustomer(ctx context.Context, p *domain.CustomerProfile) error {
	if p.Score == 0 {
		p.Score = domain.ScoreDefault
	}
	if p.CreditLimit == 0 {
		p.CreditLimit = 3000
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, khata_score, khata_limit, last_score_update)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name  = excluded.name,
			phone = excluded.phone,
			email = excluded.email
	`, p.ID, p.Name, p.Phone, p.Email, p.Score, p.CreditLimit,
		p.LastScoreUpdate.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", p.ID, err)
	}
	return nil
}

// ListCustomers returns all customer profiles ordered by name.
func (db *DB) ListCustomers(ctx context.Context) ([]domain.CustomerProfile, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, name, phone, email, khata_score, khata_limit, last_score_update
		FROM customers ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var out []domain.CustomerProfile
	for rows.Next() {
		var p domain.CustomerProfile
		var updated string
		if err := rows.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.Score, &p.CreditLimit, &updated); err != nil {
			return nil, err
		}
		if updated != "" {
			p.LastScoreUpdate, _ = time.Parse(time.RFC3339Nano, updated)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateScore writes the recomputed score and derived khata limit.
func (db *DB) UpdateScore(ctx context.Context, id string, score int, limit int64, at time.Time) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE customers
		SET khata_score = ?, khata_limit = ?, last_score_update = ?
		WHERE id = ?
	`, score, limit, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update score for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}
