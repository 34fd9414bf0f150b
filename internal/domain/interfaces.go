package domain

import (
	"context"
	"time"
)

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// LedgerStore is the append-only record of debit/credit events per customer.
// The core only depends on ascending-timestamp ordering and the
// debit/credit partition.
type LedgerStore interface {
	// AppendEntry records a new immutable ledger entry and returns its ID.
	AppendEntry(ctx context.Context, e LedgerEntry) (int64, error)

	// EntriesByCustomer returns all entries for a customer, ascending by
	// timestamp.
	EntriesByCustomer(ctx context.Context, customerID string) ([]LedgerEntry, error)
}

// ProfileStore persists customer credit profiles.
type ProfileStore interface {
	GetCustomer(ctx context.Context, id string) (*CustomerProfile, error)
	GetCustomerByPhone(ctx context.Context, phone string) (*CustomerProfile, error)
	UpsertCustomer(ctx context.Context, p *CustomerProfile) error
	ListCustomers(ctx context.Context) ([]CustomerProfile, error)

	// UpdateScore writes the recomputed score and derived limit.
	// Only the scoring engine calls this.
	UpdateScore(ctx context.Context, id string, score int, limit int64, at time.Time) error
}

// InvoiceStore persists collections invoices. UpdateInvoice is an atomic
// conditional update keyed on Invoice.Version; history mutation is
// append-only and separate from invoice state.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)

	// FindActiveByPhone returns the open invoice (not paid, not disputed)
	// whose customer phone ends with the given digits, or
	// ErrInvoiceNotFound.
	FindActiveByPhone(ctx context.Context, phoneSuffix string) (*Invoice, error)

	// ListByStatus returns invoices in any of the given statuses,
	// ascending by due date.
	ListByStatus(ctx context.Context, statuses ...InvoiceStatus) ([]Invoice, error)

	// UpdateInvoice writes invoice state if and only if the stored version
	// matches inv.Version; on success inv.Version is advanced. Returns
	// ErrVersionConflict when another writer got there first.
	UpdateInvoice(ctx context.Context, inv *Invoice) error

	// AppendHistory appends exactly one audit entry to the invoice.
	AppendHistory(ctx context.Context, invoiceID string, e ReminderHistoryEntry) error
}

// ─── Capability Interfaces ──────────────────────────────────────────────────
// External capabilities are modeled as interfaces returning outcomes, not
// errors: a failed delivery or an unparseable utterance must never abort
// the scheduler batch or a live call turn.

// Notifier attempts delivery of collection text over a channel.
type Notifier interface {
	// Send delivers text to the invoice's customer over the channel.
	// Ordinary delivery failures come back as DeliveryFailed; missing
	// provider credentials degrade to SimulatedDelivered.
	Send(ctx context.Context, inv *Invoice, text string, ch Channel) DeliveryStatus

	// SendDirect delivers text to a raw phone number, used for follow-up
	// notifications outside the invoice escalation path.
	SendDirect(ctx context.Context, phone, text string, ch Channel) DeliveryStatus
}

// IntentClassifier maps a free-text customer utterance to a fixed intent.
// Implementations always return a value from the enum, defaulting to
// IntentUnknown on any internal error.
type IntentClassifier interface {
	Classify(ctx context.Context, utterance string) Intent
}

// MessageComposer produces channel- and tone-appropriate collection text.
// Implementations return a non-empty, channel-appropriate fallback string
// even if their underlying generation fails.
type MessageComposer interface {
	Compose(ctx context.Context, inv *Invoice, tone Tone, ch Channel) string
}

// ConversationStore is the process-lifetime bounded buffer of negotiation
// turns per invoice. Not durable: a restart loses in-flight context.
type ConversationStore interface {
	// Append adds a turn, dropping the oldest once the cap is reached.
	Append(invoiceID string, turn ConversationTurn)

	// History returns the retained turns in order, oldest first.
	History(invoiceID string) []ConversationTurn

	// Clear drops all retained turns for the invoice.
	Clear(invoiceID string)

	// Lock serializes concurrent turns for the same invoice. The returned
	// function releases the per-invoice critical section.
	Lock(invoiceID string) (unlock func())
}
