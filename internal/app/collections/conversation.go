package collections

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kiranalink/khata/internal/domain"
	"github.com/kiranalink/khata/internal/infra/observability"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// ControllerConfig configures the conversation controller.
type ControllerConfig struct {
	// Unit is the length of one collections time unit. Production: 24h.
	Unit time.Duration

	// ExtensionUnits is how many units an extension request pushes the
	// due date out.
	ExtensionUnits int

	// PromiseWindow is how long a payment promise pauses reminders.
	PromiseWindow time.Duration

	// VoiceNumber is our outbound caller ID, used to tell which side of
	// a webhook's From/To pair is the customer.
	VoiceNumber string

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultControllerConfig returns production defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Unit:           24 * time.Hour,
		ExtensionUnits: 3,
		PromiseWindow:  24 * time.Hour,
		Now:            time.Now,
	}
}

// VoiceComposer extends message composition with live voice-agent
// replies.
type VoiceComposer interface {
	domain.MessageComposer
	AgentReply(ctx context.Context, inv *domain.Invoice, history []domain.ConversationTurn) (text string, endCall bool)
}

// VoiceReply is what the voice webhook speaks back to the caller.
type VoiceReply struct {
	Text    string
	EndCall bool
}

// ─── Controller ─────────────────────────────────────────────────────────────

// Controller negotiates with customers who reply to reminders, by text
// or in a live call. Intents mutate invoice state; everything lands in
// the invoice's audit history.
type Controller struct {
	cfg        ControllerConfig
	invoices   domain.InvoiceStore
	classifier domain.IntentClassifier
	composer   VoiceComposer
	notifier   domain.Notifier
	memory     domain.ConversationStore
}

// NewController creates the conversation controller.
func NewController(cfg ControllerConfig, invoices domain.InvoiceStore, classifier domain.IntentClassifier, composer VoiceComposer, notifier domain.Notifier, memory domain.ConversationStore) *Controller {
	if cfg.Unit <= 0 {
		cfg.Unit = 24 * time.Hour
	}
	if cfg.ExtensionUnits <= 0 {
		cfg.ExtensionUnits = 3
	}
	if cfg.PromiseWindow <= 0 {
		cfg.PromiseWindow = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		cfg:        cfg,
		invoices:   invoices,
		classifier: classifier,
		composer:   composer,
		notifier:   notifier,
		memory:     memory,
	}
}

// ─── Text Replies ───────────────────────────────────────────────────────────

// HandleTextReply processes an inbound WhatsApp/SMS reply. Unknown
// senders and senders with no open invoice are silently ignored; the
// webhook has nobody useful to answer.
func (c *Controller) HandleTextReply(ctx context.Context, from, body string) error {
	phone := strings.TrimPrefix(from, "whatsapp:")
	if phone == "" || body == "" {
		return nil
	}

	inv, err := c.invoices.FindActiveByPhone(ctx, lastDigits(phone, 10))
	if errors.Is(err, domain.ErrInvoiceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	unlock := c.memory.Lock(inv.ID)
	defer unlock()

	intent := c.classifier.Classify(ctx, body)
	observability.IntentsClassified.WithLabelValues(string(intent)).Inc()
	log.Printf("[conversation] reply from %s: %q -> %s", inv.CustomerName, body, intent)

	now := c.cfg.Now()
	var ack string
	switch intent {
	case domain.IntentPaymentPromised:
		ack = fmt.Sprintf("Thank you %s! Payment promise noted. We will remind you tomorrow.", inv.CustomerName)
	case domain.IntentExtensionRequested:
		ack = fmt.Sprintf("Understood %s. You have %d more days. Please pay Rs.%d by then.",
			inv.CustomerName, c.cfg.ExtensionUnits, inv.Amount)
	case domain.IntentDispute:
		ack = fmt.Sprintf("We apologize %s. Your dispute is logged. Our team will review within 24 hours.", inv.CustomerName)
	}

	if err := c.applyIntent(ctx, inv, intent, now); err != nil {
		return err
	}
	if err := c.invoices.AppendHistory(ctx, inv.ID, domain.ReminderHistoryEntry{
		Timestamp:      now,
		Channel:        domain.ChannelCustomerReply,
		Content:        fmt.Sprintf("[%s] %q", intent, body),
		DeliveryStatus: domain.Received,
	}); err != nil {
		return err
	}

	if ack != "" {
		// Best-effort acknowledgement; a failed send never fails the webhook.
		c.notifier.SendDirect(ctx, phone, ack, domain.ChannelWhatsApp)
	}
	return nil
}

// ─── Voice Turns ────────────────────────────────────────────────────────────

// HandleVoiceTurn processes one turn of a live call. It always returns
// a speakable reply; err is only set when invoice state could not be
// persisted, and even then the reply text is valid.
func (c *Controller) HandleVoiceTurn(ctx context.Context, from, to, speech string) (VoiceReply, error) {
	observability.VoiceTurns.Inc()

	// The webhook reports both legs of the call; the customer is
	// whichever side is not our own caller ID.
	customerPhone := from
	if from == c.cfg.VoiceNumber {
		customerPhone = to
	}

	if strings.TrimSpace(speech) == "" {
		return VoiceReply{Text: "Hello? Are you there? Please tell me when you can pay."}, nil
	}

	last10 := lastDigits(customerPhone, 10)
	if len(last10) < 10 {
		return VoiceReply{Text: "Sorry, I could not identify your account. Goodbye.", EndCall: true}, nil
	}

	inv, err := c.invoices.FindActiveByPhone(ctx, last10)
	if errors.Is(err, domain.ErrInvoiceNotFound) {
		return VoiceReply{Text: "Thank you. We have no pending dues for you. Goodbye.", EndCall: true}, nil
	}
	if err != nil {
		return VoiceReply{Text: "Sorry, there was a connection issue. We will call you back. Goodbye.", EndCall: true}, err
	}

	unlock := c.memory.Lock(inv.ID)
	defer unlock()

	c.memory.Append(inv.ID, domain.ConversationTurn{Role: domain.RoleCustomer, Text: speech})
	reply, endCall := c.composer.AgentReply(ctx, inv, c.memory.History(inv.ID))
	c.memory.Append(inv.ID, domain.ConversationTurn{Role: domain.RoleAgent, Text: reply})

	intent := c.classifier.Classify(ctx, speech)
	observability.IntentsClassified.WithLabelValues(string(intent)).Inc()
	log.Printf("[conversation] %s: %q -> agent %q | intent %s | end %v",
		inv.CustomerName, speech, reply, intent, endCall)

	now := c.cfg.Now()
	if histErr := c.invoices.AppendHistory(ctx, inv.ID, domain.ReminderHistoryEntry{
		Timestamp:      now,
		Channel:        domain.ChannelVoiceCall,
		Content:        fmt.Sprintf("[Customer]: %s | [Agent]: %s | [Intent: %s]", speech, reply, intent),
		DeliveryStatus: domain.Delivered,
	}); histErr != nil {
		log.Printf("[conversation] invoice %s: turn history failed: %v", inv.ID, histErr)
	}

	if !endCall {
		return VoiceReply{Text: reply}, nil
	}

	c.memory.Clear(inv.ID)
	if err := c.applyIntent(ctx, inv, intent, now); err != nil {
		return VoiceReply{Text: reply, EndCall: true}, err
	}
	return VoiceReply{Text: reply, EndCall: true}, nil
}

// ─── Intent Transitions ─────────────────────────────────────────────────────

// applyIntent mutates invoice state for a classified intent. UNKNOWN
// changes nothing. A concurrent writer triggers one re-fetch and
// re-apply; the intent is the customer's word and should not be lost to
// a scheduler race.
func (c *Controller) applyIntent(ctx context.Context, inv *domain.Invoice, intent domain.Intent, now time.Time) error {
	if intent == domain.IntentUnknown {
		return nil
	}

	err := c.applyIntentOnce(ctx, inv, intent, now)
	if errors.Is(err, domain.ErrVersionConflict) {
		observability.VersionConflicts.Inc()
		fresh, getErr := c.invoices.GetInvoice(ctx, inv.ID)
		if getErr != nil {
			return getErr
		}
		return c.applyIntentOnce(ctx, fresh, intent, now)
	}
	return err
}

func (c *Controller) applyIntentOnce(ctx context.Context, inv *domain.Invoice, intent domain.Intent, now time.Time) error {
	var note string
	switch intent {
	case domain.IntentPaymentPromised:
		until := now.Add(c.cfg.PromiseWindow)
		inv.Status = domain.StatusPromised
		inv.PromisedUntil = &until
		contacted := now
		inv.LastContactedAt = &contacted
		note = "Promised. WhatsApp UPI link sent. Scheduler paused."

	case domain.IntentExtensionRequested:
		inv.DueDate = now.Add(time.Duration(c.cfg.ExtensionUnits) * c.cfg.Unit)
		if inv.ReminderLevel > 0 {
			inv.ReminderLevel--
		}
		note = fmt.Sprintf("Extension granted. New due: %s", inv.DueDate.Format("Mon Jan 2 2006"))

	case domain.IntentDispute:
		inv.Status = domain.StatusDisputed
		note = "Disputed. Reminders frozen pending human review."
	}

	if err := c.invoices.UpdateInvoice(ctx, inv); err != nil {
		return err
	}
	if err := c.invoices.AppendHistory(ctx, inv.ID, domain.ReminderHistoryEntry{
		Timestamp:      now,
		Channel:        domain.ChannelSystem,
		Content:        "[AUTO] " + note,
		DeliveryStatus: domain.Delivered,
	}); err != nil {
		log.Printf("[conversation] invoice %s: transition history failed: %v", inv.ID, err)
	}

	if intent == domain.IntentPaymentPromised {
		c.sendUPIFollowUp(ctx, inv)
	}
	return nil
}

// sendUPIFollowUp messages the customer a UPI deep link after they
// promise payment on a call. Best effort.
func (c *Controller) sendUPIFollowUp(ctx context.Context, inv *domain.Invoice) {
	upi := fmt.Sprintf("upi://pay?pa=kiranalink@oksbi&pn=KiranaLink&am=%d&cu=INR", inv.Amount)
	msg := fmt.Sprintf("Hi %s! Thanks for talking with us.\n\nYour pending amount: *Rs.%d*\n\nPay via UPI: %s\n\n- KiranaLink AI Agent",
		inv.CustomerName, inv.Amount, upi)
	status := c.notifier.SendDirect(ctx, inv.CustomerPhone, msg, domain.ChannelWhatsApp)
	log.Printf("[conversation] UPI follow-up to %s: %s", inv.CustomerName, status)
}

// lastDigits strips everything but digits and keeps at most n from the
// end.
func lastDigits(phone string, n int) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
