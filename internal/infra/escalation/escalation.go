// Package escalation decides when an overdue invoice moves to the next
// reminder level, what tone the reminder carries, and which contact
// channel to use.
//
// Levels are evaluated from the most severe threshold down; the first
// threshold met whose level exceeds the invoice's current level wins.
// That keeps escalation monotonic (a level is never re-sent) while
// letting a deeply overdue invoice jump straight to level 4 instead of
// replaying 1→2→3.
package escalation

import (
	"time"

	"github.com/kiranalink/khata/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Thresholds are the four level boundaries, expressed in time units
// past the due date. Must be strictly increasing.
type Thresholds struct {
	L1 float64
	L2 float64
	L3 float64
	L4 float64
}

// DefaultThresholds returns the production boundaries: 1, 3, 7 and 14
// units (days) overdue.
func DefaultThresholds() Thresholds {
	return Thresholds{L1: 1, L2: 3, L3: 7, L4: 14}
}

// Config configures the escalation policy.
type Config struct {
	Thresholds Thresholds

	// Unit is the length of one escalation time unit. Production: 24h.
	// An accelerated demo shrinks this single factor; the algorithm's
	// shape never changes.
	Unit time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds(), Unit: 24 * time.Hour}
}

// ─── Policy ─────────────────────────────────────────────────────────────────

// Decision is the outcome of evaluating one invoice.
type Decision struct {
	Escalate bool
	Level    int
	Tone     domain.Tone
}

// Policy is a pure escalation rule set; it performs no I/O.
type Policy struct {
	cfg Config
}

// NewPolicy creates an escalation policy.
func NewPolicy(cfg Config) *Policy {
	if cfg.Unit <= 0 {
		cfg.Unit = 24 * time.Hour
	}
	z := Thresholds{}
	if cfg.Thresholds == z {
		cfg.Thresholds = DefaultThresholds()
	}
	return &Policy{cfg: cfg}
}

// Evaluate decides whether the invoice should escalate at time now.
// Paid, disputed and promised invoices never escalate, nor does
// anything not yet past its due date.
func (p *Policy) Evaluate(inv *domain.Invoice, now time.Time) Decision {
	none := Decision{Level: inv.ReminderLevel}

	if !now.After(inv.DueDate) {
		return none
	}
	switch inv.Status {
	case domain.StatusPaid, domain.StatusDisputed, domain.StatusPromised:
		return none
	}

	overdueUnits := now.Sub(inv.DueDate).Seconds() / p.cfg.Unit.Seconds()
	t := p.cfg.Thresholds

	// Most severe first: first threshold met that beats the current level.
	switch {
	case overdueUnits >= t.L4 && inv.ReminderLevel < 4:
		return Decision{Escalate: true, Level: 4, Tone: domain.ToneFinal}
	case overdueUnits >= t.L3 && inv.ReminderLevel < 3:
		return Decision{Escalate: true, Level: 3, Tone: domain.ToneUrgent}
	case overdueUnits >= t.L2 && inv.ReminderLevel < 2:
		return Decision{Escalate: true, Level: 2, Tone: domain.TonePolite}
	case overdueUnits >= t.L1 && inv.ReminderLevel < 1:
		return Decision{Escalate: true, Level: 1, Tone: domain.ToneFriendly}
	}
	return none
}

// PromiseLapsed reports whether a promised invoice's payment window has
// elapsed without payment, making it eligible for re-arming by the
// periodic scan.
func (p *Policy) PromiseLapsed(inv *domain.Invoice, now time.Time) bool {
	return inv.Status == domain.StatusPromised &&
		inv.PromisedUntil != nil &&
		now.After(*inv.PromisedUntil)
}

// ─── Channel Selection ──────────────────────────────────────────────────────

// SelectChannel picks the contact channel for an escalation level.
// Severity drives the choice, not customer preference: low levels get a
// messaging app, high levels get a voice call. Customers without a
// phone number on file always get email.
func SelectChannel(inv *domain.Invoice, level int) domain.Channel {
	if inv.CustomerPhone == "" {
		return domain.ChannelEmail
	}
	if level <= 2 {
		return domain.ChannelWhatsApp
	}
	return domain.ChannelVoice
}
