package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kiranalink/khata/internal/domain"
)

func testNotifyInvoice() *domain.Invoice {
	return &domain.Invoice{
		ID:            "inv-1",
		CustomerName:  "Raju Kumar",
		CustomerPhone: "+919876543210",
		CustomerEmail: "raju@example.com",
		Amount:        1200,
	}
}

// ─── Simulated Delivery Tests ───────────────────────────────────────────────

func TestSend_NoCredentialsSimulates(t *testing.T) {
	n := New(Config{})
	ctx := context.Background()
	inv := testNotifyInvoice()

	for _, ch := range []domain.Channel{domain.ChannelWhatsApp, domain.ChannelSMS, domain.ChannelVoice, domain.ChannelEmail} {
		t.Run(string(ch), func(t *testing.T) {
			if got := n.Send(ctx, inv, "pay up please", ch); got != domain.SimulatedDelivered {
				t.Errorf("Send = %q, want simulated_delivered", got)
			}
		})
	}
}

func TestSend_UnknownChannelFails(t *testing.T) {
	n := New(Config{})
	if got := n.Send(context.Background(), testNotifyInvoice(), "x", domain.Channel("pigeon")); got != domain.DeliveryFailed {
		t.Errorf("Send = %q, want failed", got)
	}
}

func TestSend_EmailWithoutAddressFails(t *testing.T) {
	n := New(Config{})
	inv := testNotifyInvoice()
	inv.CustomerEmail = ""
	if got := n.Send(context.Background(), inv, "x", domain.ChannelEmail); got != domain.DeliveryFailed {
		t.Errorf("Send = %q, want failed", got)
	}
}

func TestSendDirect_UnsupportedChannelFails(t *testing.T) {
	n := New(Config{})
	if got := n.SendDirect(context.Background(), "+911234567890", "x", domain.ChannelVoice); got != domain.DeliveryFailed {
		t.Errorf("SendDirect = %q, want failed", got)
	}
}

// ─── Provider Tests ─────────────────────────────────────────────────────────

func providerNotifier(t *testing.T, handler http.HandlerFunc) *Notifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{Twilio: TwilioConfig{
		AccountSID:  "AC123",
		AuthToken:   "token",
		PhoneNumber: "+15550001111",
		BaseURL:     srv.URL,
	}})
}

func TestSend_WhatsAppAddsPrefixes(t *testing.T) {
	var gotFrom, gotTo string
	n := providerNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotFrom = r.PostForm.Get("From")
		gotTo = r.PostForm.Get("To")
		w.WriteHeader(http.StatusCreated)
	})

	status := n.Send(context.Background(), testNotifyInvoice(), "hello", domain.ChannelWhatsApp)
	if status != domain.Delivered {
		t.Fatalf("status = %q, want delivered", status)
	}
	if !strings.HasPrefix(gotFrom, "whatsapp:") || !strings.HasPrefix(gotTo, "whatsapp:") {
		t.Errorf("missing whatsapp prefixes: from=%q to=%q", gotFrom, gotTo)
	}
}

func TestSend_VoiceSanitizesTwiml(t *testing.T) {
	var gotTwiml string
	n := providerNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotTwiml = r.PostForm.Get("Twiml")
		w.WriteHeader(http.StatusCreated)
	})

	n.Send(context.Background(), testNotifyInvoice(), "Pay ₹1200 <now>", domain.ChannelVoice)
	if strings.Contains(gotTwiml, "₹") {
		t.Errorf("rupee symbol leaked into TwiML: %q", gotTwiml)
	}
	if !strings.Contains(gotTwiml, "rupees 1200") {
		t.Errorf("amount not spoken as rupees: %q", gotTwiml)
	}
	if !strings.Contains(gotTwiml, "<Hangup/>") {
		t.Errorf("call TwiML missing hangup: %q", gotTwiml)
	}
}

func TestSend_ProviderErrorFails(t *testing.T) {
	n := providerNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if got := n.Send(context.Background(), testNotifyInvoice(), "x", domain.ChannelSMS); got != domain.DeliveryFailed {
		t.Errorf("Send = %q, want failed", got)
	}
}

// ─── Sanitization Tests ─────────────────────────────────────────────────────

func TestSanitizeVoiceText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Pay ₹500 now", "Pay rupees 500 now"},
		{"a & b", "a  and  b"},
		{"<script>boo</script>", "scriptboo/script"},
		{"line1\nline2", "line1. line2"},
		{`it's "fine"`, "its fine"},
		{"", "Thank you. Goodbye."},
		{"  \n ", "Thank you. Goodbye."},
	}
	for _, tt := range tests {
		if got := SanitizeVoiceText(tt.in); got != tt.want {
			t.Errorf("SanitizeVoiceText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
