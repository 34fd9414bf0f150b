// Package convmem keeps short-term negotiation context per invoice in
// process memory. It is deliberately not durable: a restart drops
// in-flight call context, and the next call simply starts fresh.
package convmem

import (
	"sync"

	"github.com/kiranalink/khata/internal/domain"
)

// MaxTurns is how many conversation turns are retained per invoice.
// Older turns fall off the front once the cap is reached.
const MaxTurns = 10

// Store is a bounded in-memory conversation buffer keyed by invoice ID.
// Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	turns map[string][]domain.ConversationTurn
	locks map[string]*sync.Mutex
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{
		turns: make(map[string][]domain.ConversationTurn),
		locks: make(map[string]*sync.Mutex),
	}
}

// Append adds a turn, dropping the oldest once the cap is reached.
func (s *Store) Append(invoiceID string, turn domain.ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := append(s.turns[invoiceID], turn)
	if len(buf) > MaxTurns {
		buf = buf[len(buf)-MaxTurns:]
	}
	s.turns[invoiceID] = buf
}

// History returns a copy of the retained turns in order, oldest first.
func (s *Store) History(invoiceID string) []domain.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.turns[invoiceID]
	out := make([]domain.ConversationTurn, len(buf))
	copy(out, buf)
	return out
}

// Clear drops all retained turns for the invoice.
func (s *Store) Clear(invoiceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, invoiceID)
}

// Lock serializes concurrent turns for the same invoice. Turns for
// different invoices proceed in parallel.
func (s *Store) Lock(invoiceID string) (unlock func()) {
	s.mu.Lock()
	m, ok := s.locks[invoiceID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[invoiceID] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
