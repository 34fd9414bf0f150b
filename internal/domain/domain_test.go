package domain

import "testing"

func TestInvoiceStatusActive(t *testing.T) {
	tests := []struct {
		status InvoiceStatus
		want   bool
	}{
		{StatusUnpaid, true},
		{StatusOverdue, true},
		{StatusPaid, false},
		{StatusDisputed, false},
		{StatusPromised, false},
	}
	for _, tt := range tests {
		if got := tt.status.Active(); got != tt.want {
			t.Errorf("%s.Active() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestToneForLevel(t *testing.T) {
	tests := []struct {
		level int
		want  Tone
	}{
		{1, ToneFriendly},
		{2, TonePolite},
		{3, ToneUrgent},
		{4, ToneFinal},
		{9, ToneFinal}, // anything past the ladder stays final
	}
	for _, tt := range tests {
		if got := ToneForLevel(tt.level); got != tt.want {
			t.Errorf("ToneForLevel(%d) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		raw  string
		want Intent
	}{
		{"PAYMENT_PROMISED", IntentPaymentPromised},
		{"EXTENSION_REQUESTED", IntentExtensionRequested},
		{"DISPUTE", IntentDispute},
		{"UNKNOWN", IntentUnknown},
		{"payment_promised", IntentUnknown}, // case sensitive, closed enum
		{"REFUND", IntentUnknown},
		{"", IntentUnknown},
	}
	for _, tt := range tests {
		if got := ParseIntent(tt.raw); got != tt.want {
			t.Errorf("ParseIntent(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
