// Package collections drives debt recovery: a periodic scheduler that
// escalates overdue invoices across contact channels, and a
// conversation controller that negotiates with customers who reply.
package collections

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/kiranalink/khata/internal/domain"
	"github.com/kiranalink/khata/internal/infra/escalation"
	"github.com/kiranalink/khata/internal/infra/observability"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// SchedulerConfig configures the collections scheduler.
type SchedulerConfig struct {
	// ScanInterval is how often a pass over active invoices runs.
	ScanInterval time.Duration

	// MaxConcurrent bounds how many invoices one pass processes at once.
	MaxConcurrent int

	// ComposeTimeout bounds message generation per invoice.
	ComposeTimeout time.Duration

	// PromiseGrace is how long after a lapsed promise window the invoice
	// is left alone before reminders resume.
	PromiseGrace time.Duration

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultSchedulerConfig returns production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ScanInterval:   time.Minute,
		MaxConcurrent:  4,
		ComposeTimeout: 20 * time.Second,
		PromiseGrace:   24 * time.Hour,
		Now:            time.Now,
	}
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Scheduler periodically evaluates active invoices and sends escalating
// reminders. One invoice's failure never touches the rest of a pass.
type Scheduler struct {
	cfg      SchedulerConfig
	invoices domain.InvoiceStore
	policy   *escalation.Policy
	composer domain.MessageComposer
	notifier domain.Notifier
}

// NewScheduler creates the collections scheduler.
func NewScheduler(cfg SchedulerConfig, invoices domain.InvoiceStore, policy *escalation.Policy, composer domain.MessageComposer, notifier domain.Notifier) *Scheduler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.ComposeTimeout <= 0 {
		cfg.ComposeTimeout = 20 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{cfg: cfg, invoices: invoices, policy: policy, composer: composer, notifier: notifier}
}

// Run executes passes at the configured cadence until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("[scheduler] started, scanning every %s", s.cfg.ScanInterval)
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[scheduler] stopped")
			return
		case <-ticker.C:
			s.RunPass(ctx)
		}
	}
}

// RunPass evaluates every active invoice once. Lapsed promises are
// re-armed back to overdue; the next pass picks them up for reminders.
func (s *Scheduler) RunPass(ctx context.Context) {
	start := s.cfg.Now()
	defer func() {
		observability.PassDuration.Observe(time.Since(start).Seconds())
	}()

	invoices, err := s.invoices.ListByStatus(ctx,
		domain.StatusUnpaid, domain.StatusOverdue, domain.StatusPromised)
	if err != nil {
		log.Printf("[scheduler] pass aborted, cannot list invoices: %v", err)
		return
	}

	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i := range invoices {
		inv := invoices[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[scheduler] invoice %s panicked: %v", inv.ID, r)
				}
				<-sem
				wg.Done()
			}()
			s.processInvoice(ctx, inv)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) processInvoice(ctx context.Context, inv domain.Invoice) {
	now := s.cfg.Now()

	if inv.Status == domain.StatusPromised {
		s.maybeRearm(ctx, &inv, now)
		return
	}

	decision := s.policy.Evaluate(&inv, now)
	if !decision.Escalate {
		return
	}

	if err := s.escalate(ctx, inv, decision, now); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			// Someone else mutated the invoice mid-flight. Re-fetch and
			// re-evaluate from fresh state, once.
			observability.VersionConflicts.Inc()
			fresh, getErr := s.invoices.GetInvoice(ctx, inv.ID)
			if getErr != nil {
				log.Printf("[scheduler] invoice %s: conflict retry fetch failed: %v", inv.ID, getErr)
				return
			}
			decision = s.policy.Evaluate(fresh, now)
			if !decision.Escalate {
				return
			}
			if err := s.escalate(ctx, *fresh, decision, now); err != nil {
				log.Printf("[scheduler] invoice %s: escalation retry failed: %v", inv.ID, err)
			}
			return
		}
		log.Printf("[scheduler] invoice %s: escalation failed: %v", inv.ID, err)
	}
}

// escalate sends one reminder and advances the invoice exactly one
// level. The history entry is written for every attempt, delivered or
// not; failed sends still count as contact and are retried next level.
func (s *Scheduler) escalate(ctx context.Context, inv domain.Invoice, decision escalation.Decision, now time.Time) error {
	channel := escalation.SelectChannel(&inv, decision.Level)

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ComposeTimeout)
	text := s.composer.Compose(cctx, &inv, decision.Tone, channel)
	cancel()

	status := s.notifier.Send(ctx, &inv, text, channel)
	if status == domain.DeliveryFailed {
		observability.SendFailures.Inc()
	}

	inv.Status = domain.StatusOverdue
	inv.ReminderLevel = decision.Level
	contacted := now
	inv.LastContactedAt = &contacted
	if err := s.invoices.UpdateInvoice(ctx, &inv); err != nil {
		return err
	}

	if err := s.invoices.AppendHistory(ctx, inv.ID, domain.ReminderHistoryEntry{
		Timestamp:      now,
		Channel:        channel,
		Content:        text,
		DeliveryStatus: status,
	}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	observability.RemindersSent.WithLabelValues(string(channel)).Inc()
	observability.Escalations.WithLabelValues(strconv.Itoa(decision.Level)).Inc()
	log.Printf("[scheduler] invoice %s: level %d %s via %s (%s)",
		inv.ID, decision.Level, decision.Tone, channel, status)
	return nil
}

// maybeRearm flips a promised invoice whose payment window lapsed (plus
// grace) back to overdue, so the next scan resumes reminders. Disputed
// invoices have no such path; only a human status update revives them.
func (s *Scheduler) maybeRearm(ctx context.Context, inv *domain.Invoice, now time.Time) {
	if !s.policy.PromiseLapsed(inv, now.Add(-s.cfg.PromiseGrace)) {
		return
	}

	inv.Status = domain.StatusOverdue
	inv.PromisedUntil = nil
	if err := s.invoices.UpdateInvoice(ctx, inv); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			observability.VersionConflicts.Inc()
			return // a payment or a new promise won; leave it
		}
		log.Printf("[scheduler] invoice %s: re-arm failed: %v", inv.ID, err)
		return
	}
	if err := s.invoices.AppendHistory(ctx, inv.ID, domain.ReminderHistoryEntry{
		Timestamp:      now,
		Channel:        domain.ChannelSystem,
		Content:        "Payment promise lapsed without payment. Reminders resumed.",
		DeliveryStatus: domain.Delivered,
	}); err != nil {
		log.Printf("[scheduler] invoice %s: re-arm history failed: %v", inv.ID, err)
	}
	log.Printf("[scheduler] invoice %s: promise lapsed, reminders resumed", inv.ID)
}
