package escalation

import (
	"testing"
	"time"

	"github.com/kiranalink/khata/internal/domain"
)

var day = 24 * time.Hour

func invoice(status domain.InvoiceStatus, level int, overdueDays float64, now time.Time) *domain.Invoice {
	return &domain.Invoice{
		ID:            "inv-1",
		CustomerPhone: "+919876543210",
		Amount:        1200,
		DueDate:       now.Add(-time.Duration(overdueDays * float64(day))),
		Status:        status,
		ReminderLevel: level,
	}
}

func TestEvaluate_NeverBeforeDueDate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPolicy(DefaultConfig())

	inv := invoice(domain.StatusUnpaid, 0, 0, now)
	inv.DueDate = now.Add(2 * day) // due in the future

	if d := p.Evaluate(inv, now); d.Escalate {
		t.Errorf("escalated an invoice due in the future: %+v", d)
	}

	// Exactly at the due date is still not overdue.
	inv.DueDate = now
	if d := p.Evaluate(inv, now); d.Escalate {
		t.Errorf("escalated an invoice exactly at its due date: %+v", d)
	}
}

func TestEvaluate_InertStatuses(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPolicy(DefaultConfig())

	for _, status := range []domain.InvoiceStatus{domain.StatusPaid, domain.StatusDisputed, domain.StatusPromised} {
		t.Run(string(status), func(t *testing.T) {
			inv := invoice(status, 0, 30, now) // deeply overdue
			if d := p.Evaluate(inv, now); d.Escalate {
				t.Errorf("status %s escalated: %+v", status, d)
			}
		})
	}
}

func TestEvaluate_ThresholdLadder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPolicy(DefaultConfig())

	tests := []struct {
		name        string
		overdueDays float64
		level       int
		wantLevel   int
		wantTone    domain.Tone
	}{
		{"one day overdue", 1.5, 0, 1, domain.ToneFriendly},
		{"three days overdue", 4, 0, 2, domain.TonePolite},
		{"a week overdue", 8, 0, 3, domain.ToneUrgent},
		{"two weeks overdue", 15, 0, 4, domain.ToneFinal},
		{"jumps straight to final", 20, 0, 4, domain.ToneFinal},
		{"next rung from level 1", 4, 1, 2, domain.TonePolite},
		{"skips to urgent from level 1", 8, 1, 3, domain.ToneUrgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := invoice(domain.StatusOverdue, tt.level, tt.overdueDays, now)
			d := p.Evaluate(inv, now)
			if !d.Escalate {
				t.Fatalf("expected escalation, got %+v", d)
			}
			if d.Level != tt.wantLevel || d.Tone != tt.wantTone {
				t.Errorf("got level=%d tone=%q, want level=%d tone=%q", d.Level, d.Tone, tt.wantLevel, tt.wantTone)
			}
		})
	}
}

func TestEvaluate_MonotonicNeverRepeatsALevel(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPolicy(DefaultConfig())

	for level := 0; level <= domain.MaxReminderLevel; level++ {
		for _, overdue := range []float64{0.5, 1.5, 4, 8, 15, 40} {
			inv := invoice(domain.StatusOverdue, level, overdue, now)
			d := p.Evaluate(inv, now)
			if d.Escalate && d.Level <= level {
				t.Errorf("overdue=%v level=%d: escalated to non-greater level %d", overdue, level, d.Level)
			}
		}
	}
}

func TestEvaluate_NothingLeftAboveCurrentLevel(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPolicy(DefaultConfig())

	// 4 days overdue reaches at most level 2; an invoice already at
	// level 2 has nowhere to go this cycle.
	inv := invoice(domain.StatusOverdue, 2, 4, now)
	if d := p.Evaluate(inv, now); d.Escalate {
		t.Errorf("expected no escalation, got %+v", d)
	}

	// Level 4 is terminal for the ladder.
	inv = invoice(domain.StatusOverdue, 4, 100, now)
	if d := p.Evaluate(inv, now); d.Escalate {
		t.Errorf("level 4 invoice escalated again: %+v", d)
	}
}

func TestEvaluate_AcceleratedUnit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Demo mode: one unit = one minute. Same thresholds, same shape.
	p := NewPolicy(Config{Thresholds: DefaultThresholds(), Unit: time.Minute})

	inv := invoice(domain.StatusUnpaid, 0, 0, now)
	inv.DueDate = now.Add(-8 * time.Minute)

	d := p.Evaluate(inv, now)
	if !d.Escalate || d.Level != 3 {
		t.Errorf("8 minutes overdue at 1m unit: got %+v, want level 3", d)
	}
}

func TestPromiseLapsed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPolicy(DefaultConfig())

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		inv  *domain.Invoice
		want bool
	}{
		{"lapsed promise", &domain.Invoice{Status: domain.StatusPromised, PromisedUntil: &past}, true},
		{"promise still open", &domain.Invoice{Status: domain.StatusPromised, PromisedUntil: &future}, false},
		{"promise without window", &domain.Invoice{Status: domain.StatusPromised}, false},
		{"not promised", &domain.Invoice{Status: domain.StatusOverdue, PromisedUntil: &past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.PromiseLapsed(tt.inv, now); got != tt.want {
				t.Errorf("PromiseLapsed = %v, want %v", got, tt.want)
			}
		})
	}
}

// ─── Channel Selection Tests ────────────────────────────────────────────────

func TestSelectChannel(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		level int
		want  domain.Channel
	}{
		{"no phone goes to email", "", 4, domain.ChannelEmail},
		{"level 1 messaging app", "+919876543210", 1, domain.ChannelWhatsApp},
		{"level 2 messaging app", "+919876543210", 2, domain.ChannelWhatsApp},
		{"level 3 voice", "+919876543210", 3, domain.ChannelVoice},
		{"level 4 voice", "+919876543210", 4, domain.ChannelVoice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &domain.Invoice{CustomerPhone: tt.phone}
			if got := SelectChannel(inv, tt.level); got != tt.want {
				t.Errorf("SelectChannel = %q, want %q", got, tt.want)
			}
		})
	}
}
