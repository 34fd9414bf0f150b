// Package khata is the application layer for the shared credit ledger:
// recording debit/credit events, answering balance queries, and keeping
// customer scores fresh as entries arrive.
package khata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/kiranalink/khata/internal/domain"
	"github.com/kiranalink/khata/internal/infra/observability"
	"github.com/kiranalink/khata/internal/infra/scoring"
)

// Config configures the khata service.
type Config struct {
	// RecomputeTimeout bounds the background score recomputation
	// triggered by each new ledger entry.
	RecomputeTimeout time.Duration

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RecomputeTimeout: 30 * time.Second,
		Now:              time.Now,
	}
}

// Service wires ledger writes to score recomputation.
type Service struct {
	cfg      Config
	ledger   domain.LedgerStore
	profiles domain.ProfileStore
	engine   *scoring.Engine
}

// NewService creates the khata service.
func NewService(cfg Config, ledger domain.LedgerStore, profiles domain.ProfileStore, engine *scoring.Engine) *Service {
	if cfg.RecomputeTimeout <= 0 {
		cfg.RecomputeTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg, ledger: ledger, profiles: profiles, engine: engine}
}

// ─── Ledger Operations ──────────────────────────────────────────────────────

// RecordEntry appends a ledger entry and triggers a background score
// recomputation. The write succeeds even if recomputation later fails;
// the score simply catches up on the next entry.
func (s *Service) RecordEntry(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if e.Amount <= 0 {
		return domain.LedgerEntry{}, fmt.Errorf("ledger entry amount must be positive, got %d", e.Amount)
	}
	switch e.Kind {
	case domain.EntryDebit, domain.EntryCredit:
	default:
		return domain.LedgerEntry{}, fmt.Errorf("unknown ledger entry kind %q", e.Kind)
	}
	if _, err := s.profiles.GetCustomer(ctx, e.CustomerID); err != nil {
		return domain.LedgerEntry{}, err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.cfg.Now()
	}

	id, err := s.ledger.AppendEntry(ctx, e)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	e.ID = id

	// Detached from the request context: the caller's deadline must not
	// cancel a recomputation already in flight.
	go func(customerID string) {
		defer func() {
			if r := recover(); r != nil {
				observability.ScoreRecomputeFailures.Inc()
				log.Printf("[khata] recompute panic for %s: %v", customerID, r)
			}
		}()
		rctx, cancel := context.WithTimeout(context.Background(), s.cfg.RecomputeTimeout)
		defer cancel()
		if _, err := s.engine.Recompute(rctx, customerID); err != nil {
			observability.ScoreRecomputeFailures.Inc()
			log.Printf("[khata] background recompute for %s failed: %v", customerID, err)
		}
	}(e.CustomerID)

	return e, nil
}

// Balance returns the customer's current outstanding amount: debits
// minus credits over the full ledger.
func (s *Service) Balance(ctx context.Context, customerID string) (int64, error) {
	entries, err := s.ledger.EntriesByCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	var balance int64
	for _, e := range entries {
		if e.Kind == domain.EntryDebit {
			balance += e.Amount
		} else {
			balance -= e.Amount
		}
	}
	return balance, nil
}

// Score recomputes and returns the customer's current standing
// synchronously, for the CLI and the score endpoint.
func (s *Service) Score(ctx context.Context, customerID string) (scoring.Result, error) {
	return s.engine.Recompute(ctx, customerID)
}

// ─── Collections Bridge ─────────────────────────────────────────────────────

// NewInvoice builds a collections invoice for a customer's unpaid
// balance, minting an ID and hosted payment link. The caller persists
// it through the invoice store.
func (s *Service) NewInvoice(ctx context.Context, customerID string, amount int64, due time.Time) (*domain.Invoice, error) {
	profile, err := s.profiles.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		balance, err := s.Balance(ctx, customerID)
		if err != nil {
			return nil, err
		}
		if balance <= 0 {
			return nil, errors.New("customer has no outstanding balance")
		}
		amount = balance
	}

	id := "INV-" + uuid.NewString()[:8]
	return &domain.Invoice{
		ID:            id,
		CustomerName:  profile.Name,
		CustomerPhone: profile.Phone,
		CustomerEmail: profile.Email,
		Amount:        amount,
		DueDate:       due,
		Status:        domain.StatusUnpaid,
		PaymentLink:   "https://kiranalink.in/pay/" + id,
	}, nil
}
