// Package notify delivers collection messages over WhatsApp, SMS,
// voice and email through a Twilio-compatible REST API plus plain SMTP.
//
// Delivery outcomes are values, not errors. Missing provider
// credentials degrade every channel to a logged simulated delivery so
// the whole pipeline runs end to end on a laptop with no accounts.
package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/kiranalink/khata/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// TwilioConfig holds provider credentials. Zero values disable the
// provider; sends are then simulated.
type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	PhoneNumber    string // SMS sender
	WhatsAppNumber string // sandbox default applied when empty
	VoiceNumber    string // falls back to PhoneNumber
	BaseURL        string // override for tests
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Config configures the notifier.
type Config struct {
	Twilio TwilioConfig
	SMTP   SMTPConfig
}

// Notifier implements delivery over all supported channels.
type Notifier struct {
	cfg  Config
	http *http.Client
}

// New creates a notifier.
func New(cfg Config) *Notifier {
	if cfg.Twilio.BaseURL == "" {
		cfg.Twilio.BaseURL = "https://api.twilio.com"
	}
	if cfg.Twilio.WhatsAppNumber == "" {
		// Sandbox sender used when no dedicated number is provisioned.
		cfg.Twilio.WhatsAppNumber = "whatsapp:+14155238886"
	}
	if cfg.Twilio.VoiceNumber == "" {
		cfg.Twilio.VoiceNumber = cfg.Twilio.PhoneNumber
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = "billing@kiranalink.in"
	}
	return &Notifier{cfg: cfg, http: &http.Client{Timeout: 15 * time.Second}}
}

func (n *Notifier) twilioEnabled() bool {
	t := n.cfg.Twilio
	return t.AccountSID != "" && t.AuthToken != "" && t.PhoneNumber != ""
}

func (n *Notifier) smtpEnabled() bool {
	return n.cfg.SMTP.Host != ""
}

// ─── Sending ────────────────────────────────────────────────────────────────

// Send delivers text to the invoice's customer over the channel.
func (n *Notifier) Send(ctx context.Context, inv *domain.Invoice, text string, ch domain.Channel) domain.DeliveryStatus {
	switch ch {
	case domain.ChannelWhatsApp:
		return n.sendWhatsApp(ctx, inv.CustomerPhone, text)
	case domain.ChannelSMS:
		return n.sendSMS(ctx, inv.CustomerPhone, text)
	case domain.ChannelVoice:
		return n.placeCall(ctx, inv.CustomerPhone, text)
	case domain.ChannelEmail:
		return n.sendEmail(inv.CustomerEmail, text)
	default:
		log.Printf("[notify] unknown channel %q for invoice %s", ch, inv.ID)
		return domain.DeliveryFailed
	}
}

// SendDirect delivers text to a raw phone number, used for follow-up
// notifications outside the invoice escalation path.
func (n *Notifier) SendDirect(ctx context.Context, phone, text string, ch domain.Channel) domain.DeliveryStatus {
	switch ch {
	case domain.ChannelWhatsApp:
		return n.sendWhatsApp(ctx, phone, text)
	case domain.ChannelSMS:
		return n.sendSMS(ctx, phone, text)
	default:
		log.Printf("[notify] direct send unsupported on channel %q", ch)
		return domain.DeliveryFailed
	}
}

func (n *Notifier) sendWhatsApp(ctx context.Context, phone, text string) domain.DeliveryStatus {
	if !n.twilioEnabled() {
		log.Printf("[notify] mock whatsapp to %s: %s", phone, text)
		return domain.SimulatedDelivered
	}
	from := n.cfg.Twilio.WhatsAppNumber
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}
	to := phone
	if !strings.HasPrefix(to, "whatsapp:") {
		to = "whatsapp:" + to
	}
	return n.twilioPost(ctx, "Messages.json", url.Values{
		"Body": {text},
		"From": {from},
		"To":   {to},
	})
}

func (n *Notifier) sendSMS(ctx context.Context, phone, text string) domain.DeliveryStatus {
	if !n.twilioEnabled() {
		log.Printf("[notify] mock sms to %s: %s", phone, text)
		return domain.SimulatedDelivered
	}
	return n.twilioPost(ctx, "Messages.json", url.Values{
		"Body": {text},
		"From": {strings.TrimPrefix(n.cfg.Twilio.PhoneNumber, "whatsapp:")},
		"To":   {strings.TrimPrefix(phone, "whatsapp:")},
	})
}

// placeCall starts an outbound call that speaks the reminder and hangs
// up. No webhook is needed for this one-way announcement.
func (n *Notifier) placeCall(ctx context.Context, phone, text string) domain.DeliveryStatus {
	if !n.twilioEnabled() {
		log.Printf("[notify] mock call to %s: %s", phone, text)
		return domain.SimulatedDelivered
	}
	twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response><Say voice="alice" language="en-IN">%s</Say><Pause length="1"/><Say voice="alice" language="en-IN">Thank you. Goodbye.</Say><Hangup/></Response>`,
		SanitizeVoiceText(text))
	return n.twilioPost(ctx, "Calls.json", url.Values{
		"Twiml": {twiml},
		"From":  {strings.TrimPrefix(n.cfg.Twilio.VoiceNumber, "whatsapp:")},
		"To":    {strings.TrimPrefix(phone, "whatsapp:")},
	})
}

func (n *Notifier) twilioPost(ctx context.Context, resource string, form url.Values) domain.DeliveryStatus {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s",
		strings.TrimSuffix(n.cfg.Twilio.BaseURL, "/"), n.cfg.Twilio.AccountSID, resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("[notify] build request: %v", err)
		return domain.DeliveryFailed
	}
	req.SetBasicAuth(n.cfg.Twilio.AccountSID, n.cfg.Twilio.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.http.Do(req)
	if err != nil {
		log.Printf("[notify] provider request failed: %v", err)
		return domain.DeliveryFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("[notify] provider returned %d for %s", resp.StatusCode, resource)
		return domain.DeliveryFailed
	}
	return domain.Delivered
}

// sendEmail delivers over SMTP. A leading "Subject: ..." line in the
// composed text becomes the mail subject.
func (n *Notifier) sendEmail(to, text string) domain.DeliveryStatus {
	if to == "" {
		log.Printf("[notify] no email address on file, skipping")
		return domain.DeliveryFailed
	}

	subject := "Invoice Reminder: KiranaLink"
	body := text
	if strings.HasPrefix(strings.ToLower(text), "subject:") {
		lines := strings.SplitN(text, "\n", 2)
		subject = strings.TrimSpace(lines[0][len("subject:"):])
		if len(lines) > 1 {
			body = strings.TrimSpace(lines[1])
		} else {
			body = ""
		}
	}

	if !n.smtpEnabled() {
		log.Printf("[notify] mock email to %s, subject %q", to, subject)
		return domain.SimulatedDelivered
	}

	msg := fmt.Sprintf("From: KiranaLink Billing <%s>\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.cfg.SMTP.From, to, subject, body)

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTP.Host, n.cfg.SMTP.Port)
	var auth smtp.Auth
	if n.cfg.SMTP.User != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTP.User, n.cfg.SMTP.Pass, n.cfg.SMTP.Host)
	}
	if err := smtp.SendMail(addr, auth, n.cfg.SMTP.From, []string{to}, []byte(msg)); err != nil {
		// A broken relay should not look worse than having none at all.
		log.Printf("[notify] smtp send failed, recording as simulated: %v", err)
		return domain.SimulatedDelivered
	}
	return domain.Delivered
}

// ─── Voice Text Sanitization ────────────────────────────────────────────────

var voiceReplacer = strings.NewReplacer(
	"&", " and ",
	"<", "",
	">", "",
	"₹", "rupees ",
	`"`, "",
	"'", "",
	"\n", ". ",
	"\r", "",
)

// SanitizeVoiceText makes arbitrary text safe to embed inside a TwiML
// Say element. Never returns an empty string.
func SanitizeVoiceText(text string) string {
	out := strings.TrimSpace(voiceReplacer.Replace(text))
	if out == "" {
		return "Thank you. Goodbye."
	}
	return out
}
