// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import "time"

// ─── Ledger Types ───────────────────────────────────────────────────────────

// EntryKind represents the accounting side of a khata ledger entry.
type EntryKind string

const (
	EntryDebit  EntryKind = "debit"  // new credit-sale debt
	EntryCredit EntryKind = "credit" // payment received
)

// LedgerEntry is a single immutable row in a customer's khata ledger.
// Entries are append-only; the scoring engine only ever reads them in
// ascending timestamp order.
type LedgerEntry struct {
	ID         int64     `json:"id"`
	CustomerID string    `json:"customer_id"`
	ShopID     string    `json:"shop_id,omitempty"`
	Amount     int64     `json:"amount"`
	Kind       EntryKind `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
}

// ─── Customer Types ─────────────────────────────────────────────────────────

// Score bounds for the global khata score.
const (
	ScoreMin     = 300
	ScoreMax     = 900
	ScoreDefault = 600
)

// CustomerProfile is the global credit identity of a customer across shops.
type CustomerProfile struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	Email           string    `json:"email,omitempty"`
	Score           int       `json:"khata_score"`
	CreditLimit     int64     `json:"khata_limit"`
	LastScoreUpdate time.Time `json:"last_score_update"`
}

// ─── Invoice Types ──────────────────────────────────────────────────────────

// InvoiceStatus is the collections lifecycle state of an invoice.
type InvoiceStatus string

const (
	StatusUnpaid   InvoiceStatus = "unpaid"
	StatusOverdue  InvoiceStatus = "overdue"
	StatusPaid     InvoiceStatus = "paid"     // terminal
	StatusDisputed InvoiceStatus = "disputed" // frozen until human review
	StatusPromised InvoiceStatus = "promised" // paused until the promise window lapses
)

// Active reports whether the scheduler should still consider this invoice.
func (s InvoiceStatus) Active() bool {
	return s == StatusUnpaid || s == StatusOverdue
}

// MaxReminderLevel is the highest escalation level an invoice can reach.
const MaxReminderLevel = 4

// Invoice is a collections target. Mutated by the scheduler (escalation)
// and the conversation controller (intent transitions); every mutation
// goes through an optimistic-concurrency update keyed on Version.
type Invoice struct {
	ID              string        `json:"invoice_id"`
	CustomerName    string        `json:"client_name"`
	CustomerPhone   string        `json:"client_phone"`
	CustomerEmail   string        `json:"client_email,omitempty"`
	Amount          int64         `json:"amount"`
	DueDate         time.Time     `json:"due_date"`
	Status          InvoiceStatus `json:"status"`
	ReminderLevel   int           `json:"reminder_level"`
	LastContactedAt *time.Time    `json:"last_contacted_at,omitempty"`
	PaymentLink     string        `json:"payment_link,omitempty"`
	PromisedUntil   *time.Time    `json:"promised_until,omitempty"`
	Version         int64         `json:"version"`

	History []ReminderHistoryEntry `json:"reminder_history,omitempty"`
}

// ReminderHistoryEntry is one append-only audit record on an invoice:
// an attempted contact, an inbound reply, or a system action.
// History is never edited or removed.
type ReminderHistoryEntry struct {
	Timestamp      time.Time      `json:"timestamp"`
	Channel        Channel        `json:"channel"`
	Content        string         `json:"message_content"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
}

// ─── Contact Channels ───────────────────────────────────────────────────────

// Channel identifies how a contact reached (or came from) the customer.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelVoice    Channel = "call"
	ChannelEmail    Channel = "email"

	// Record-only channels used in reminder history.
	ChannelCustomerReply Channel = "customer_reply"
	ChannelVoiceCall     Channel = "voice_call"
	ChannelSystem        Channel = "system"
)

// DeliveryStatus is the outcome of a delivery attempt. Delivery failure
// is a value, not an error — capability adapters never abort the caller
// for an ordinary failed send.
type DeliveryStatus string

const (
	Delivered          DeliveryStatus = "delivered"
	SimulatedDelivered DeliveryStatus = "simulated_delivered"
	DeliveryFailed     DeliveryStatus = "failed"
	Received           DeliveryStatus = "received" // inbound messages
)

// ─── Escalation Tones ───────────────────────────────────────────────────────

// Tone is the qualitative severity label attached to an escalation level,
// consumed by the message composer.
type Tone string

const (
	ToneFriendly Tone = "friendly reminder"
	TonePolite   Tone = "polite follow-up"
	ToneUrgent   Tone = "urgent reminder"
	ToneFinal    Tone = "final notice"
)

// ToneForLevel maps a reminder level (1–4) to its tone.
func ToneForLevel(level int) Tone {
	switch level {
	case 1:
		return ToneFriendly
	case 2:
		return TonePolite
	case 3:
		return ToneUrgent
	default:
		return ToneFinal
	}
}

// ─── Conversation Types ─────────────────────────────────────────────────────

// Intent is the classified meaning of an inbound customer utterance.
type Intent string

const (
	IntentPaymentPromised    Intent = "PAYMENT_PROMISED"
	IntentExtensionRequested Intent = "EXTENSION_REQUESTED"
	IntentDispute            Intent = "DISPUTE"
	IntentUnknown            Intent = "UNKNOWN"
)

// ParseIntent maps a raw classifier string to an Intent, defaulting to
// IntentUnknown for anything outside the fixed enum.
func ParseIntent(raw string) Intent {
	switch Intent(raw) {
	case IntentPaymentPromised, IntentExtensionRequested, IntentDispute, IntentUnknown:
		return Intent(raw)
	default:
		return IntentUnknown
	}
}

// TurnRole identifies who spoke a conversation turn.
type TurnRole string

const (
	RoleCustomer TurnRole = "customer"
	RoleAgent    TurnRole = "agent"
)

// ConversationTurn is one utterance in an in-flight negotiation.
type ConversationTurn struct {
	Role TurnRole `json:"role"`
	Text string   `json:"text"`
}
