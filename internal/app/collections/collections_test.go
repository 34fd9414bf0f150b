package collections

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranalink/khata/internal/domain"
	"github.com/kiranalink/khata/internal/infra/convmem"
	"github.com/kiranalink/khata/internal/infra/escalation"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeInvoices struct {
	mu       sync.Mutex
	invoices map[string]*domain.Invoice
	history  map[string][]domain.ReminderHistoryEntry

	failUpdate    map[string]error // per-invoice forced update errors
	conflictsLeft int              // forced conflicts before updates succeed
}

func newFakeInvoices() *fakeInvoices {
	return &fakeInvoices{
		invoices:   make(map[string]*domain.Invoice),
		history:    make(map[string][]domain.ReminderHistoryEntry),
		failUpdate: make(map[string]error),
	}
}

func (f *fakeInvoices) CreateInvoice(_ context.Context, inv *domain.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.invoices[inv.ID]; ok {
		return domain.ErrInvoiceExists
	}
	cp := *inv
	f.invoices[inv.ID] = &cp
	return nil
}

func (f *fakeInvoices) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	cp := *inv
	cp.History = append([]domain.ReminderHistoryEntry(nil), f.history[id]...)
	return &cp, nil
}

func (f *fakeInvoices) FindActiveByPhone(_ context.Context, suffix string) (*domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invoices {
		switch inv.Status {
		case domain.StatusPaid, domain.StatusDisputed:
			continue
		}
		if strings.HasSuffix(inv.CustomerPhone, suffix) {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrInvoiceNotFound
}

func (f *fakeInvoices) ListByStatus(_ context.Context, statuses ...domain.InvoiceStatus) ([]domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range f.invoices {
		for _, s := range statuses {
			if inv.Status == s {
				out = append(out, *inv)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeInvoices) UpdateInvoice(_ context.Context, inv *domain.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failUpdate[inv.ID]; ok {
		return err
	}
	stored, ok := f.invoices[inv.ID]
	if !ok {
		return domain.ErrInvoiceNotFound
	}
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return domain.ErrVersionConflict
	}
	if stored.Version != inv.Version {
		return domain.ErrVersionConflict
	}
	cp := *inv
	cp.Version++
	f.invoices[inv.ID] = &cp
	inv.Version++
	return nil
}

func (f *fakeInvoices) AppendHistory(_ context.Context, id string, e domain.ReminderHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[id] = append(f.history[id], e)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	sends  []string // "channel:text"
	direct []string // "channel:phone:text"
	status domain.DeliveryStatus
}

func (f *fakeNotifier) Send(_ context.Context, _ *domain.Invoice, text string, ch domain.Channel) domain.DeliveryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, string(ch)+":"+text)
	if f.status == "" {
		return domain.Delivered
	}
	return f.status
}

func (f *fakeNotifier) SendDirect(_ context.Context, phone, text string, ch domain.Channel) domain.DeliveryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.direct = append(f.direct, string(ch)+":"+phone+":"+text)
	return domain.Delivered
}

type fakeClassifier struct{ intent domain.Intent }

func (f *fakeClassifier) Classify(_ context.Context, _ string) domain.Intent { return f.intent }

type fakeComposer struct {
	reply   string
	endCall bool
}

func (f *fakeComposer) Compose(_ context.Context, inv *domain.Invoice, tone domain.Tone, _ domain.Channel) string {
	return string(tone) + " for " + inv.CustomerName
}

func (f *fakeComposer) AgentReply(_ context.Context, _ *domain.Invoice, _ []domain.ConversationTurn) (string, bool) {
	return f.reply, f.endCall
}

// ─── Scheduler Fixtures ─────────────────────────────────────────────────────

var schedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func overdueInvoice(id string, days float64) *domain.Invoice {
	return &domain.Invoice{
		ID:            id,
		CustomerName:  "Raju Kumar",
		CustomerPhone: "+919876543210",
		Amount:        1200,
		DueDate:       schedNow.Add(-time.Duration(days * 24 * float64(time.Hour))),
		Status:        domain.StatusUnpaid,
	}
}

func newTestScheduler(store *fakeInvoices, notifier *fakeNotifier) *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Now = func() time.Time { return schedNow }
	return NewScheduler(cfg, store, escalation.NewPolicy(escalation.DefaultConfig()), &fakeComposer{}, notifier)
}

// ─── Scheduler Tests ────────────────────────────────────────────────────────

func TestRunPass_EscalatesOverdueInvoice(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))

	newTestScheduler(store, notifier).RunPass(context.Background())

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.Status != domain.StatusOverdue {
		t.Errorf("status = %q, want overdue", got.Status)
	}
	if got.ReminderLevel != 1 {
		t.Errorf("level = %d, want 1", got.ReminderLevel)
	}
	if got.LastContactedAt == nil {
		t.Error("last_contacted_at not set")
	}
	if len(got.History) != 1 {
		t.Fatalf("history len = %d, want exactly 1", len(got.History))
	}
	if got.History[0].Channel != domain.ChannelWhatsApp {
		t.Errorf("level 1 channel = %q, want whatsapp", got.History[0].Channel)
	}
	if len(notifier.sends) != 1 || !strings.Contains(notifier.sends[0], "friendly reminder") {
		t.Errorf("sends = %v", notifier.sends)
	}
}

func TestRunPass_DeeplyOverdueGetsVoiceCall(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 20))

	newTestScheduler(store, notifier).RunPass(context.Background())

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.ReminderLevel != 4 {
		t.Errorf("level = %d, want 4", got.ReminderLevel)
	}
	if got.History[0].Channel != domain.ChannelVoice {
		t.Errorf("channel = %q, want call", got.History[0].Channel)
	}
}

func TestRunPass_NoRepeatWithinSameLevel(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))
	s := newTestScheduler(store, notifier)

	s.RunPass(context.Background())
	s.RunPass(context.Background())
	s.RunPass(context.Background())

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if len(got.History) != 1 {
		t.Errorf("history len = %d, want 1 after repeat passes", len(got.History))
	}
	if len(notifier.sends) != 1 {
		t.Errorf("sends = %d, want 1", len(notifier.sends))
	}
}

func TestRunPass_FailedSendStillRecorded(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{status: domain.DeliveryFailed}
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))

	newTestScheduler(store, notifier).RunPass(context.Background())

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.ReminderLevel != 1 {
		t.Errorf("level = %d, want 1 even on failed delivery", got.ReminderLevel)
	}
	if len(got.History) != 1 || got.History[0].DeliveryStatus != domain.DeliveryFailed {
		t.Errorf("history = %+v, want one failed entry", got.History)
	}
}

func TestRunPass_OneFailureDoesNotStopOthers(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}
	store.CreateInvoice(context.Background(), overdueInvoice("inv-bad", 2))
	store.CreateInvoice(context.Background(), overdueInvoice("inv-good", 2))
	store.failUpdate["inv-bad"] = errors.New("disk on fire")

	newTestScheduler(store, notifier).RunPass(context.Background())

	good, _ := store.GetInvoice(context.Background(), "inv-good")
	if good.ReminderLevel != 1 {
		t.Errorf("healthy invoice level = %d, want 1", good.ReminderLevel)
	}
}

func TestRunPass_VersionConflictRetriesOnce(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))
	store.conflictsLeft = 1

	newTestScheduler(store, notifier).RunPass(context.Background())

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.ReminderLevel != 1 {
		t.Errorf("level = %d, want 1 after conflict retry", got.ReminderLevel)
	}
	if len(got.History) != 1 {
		t.Errorf("history len = %d, want 1", len(got.History))
	}
}

func TestRunPass_RearmsLapsedPromise(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}

	inv := overdueInvoice("inv-1", 5)
	inv.Status = domain.StatusPromised
	lapsed := schedNow.Add(-48 * time.Hour) // past window + 24h grace
	inv.PromisedUntil = &lapsed
	store.CreateInvoice(context.Background(), inv)

	newTestScheduler(store, notifier).RunPass(context.Background())

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.Status != domain.StatusOverdue {
		t.Errorf("status = %q, want overdue", got.Status)
	}
	if got.PromisedUntil != nil {
		t.Error("promised_until not cleared")
	}
	if len(got.History) != 1 || got.History[0].Channel != domain.ChannelSystem {
		t.Errorf("history = %+v, want one system entry", got.History)
	}
}

func TestRunPass_FreshPromiseLeftAlone(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}

	inv := overdueInvoice("inv-1", 5)
	inv.Status = domain.StatusPromised
	until := schedNow.Add(12 * time.Hour)
	inv.PromisedUntil = &until
	store.CreateInvoice(context.Background(), inv)

	newTestScheduler(store, notifier).RunPass(context.Background())

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.Status != domain.StatusPromised {
		t.Errorf("status = %q, want still promised", got.Status)
	}
	if len(notifier.sends) != 0 {
		t.Errorf("sends = %v, want none", notifier.sends)
	}
}

// ─── Conversation Fixtures ──────────────────────────────────────────────────

func newTestController(store *fakeInvoices, classifier *fakeClassifier, composer *fakeComposer, notifier *fakeNotifier) (*Controller, *convmem.Store) {
	cfg := DefaultControllerConfig()
	cfg.Now = func() time.Time { return schedNow }
	cfg.VoiceNumber = "+15550001111"
	memory := convmem.NewStore()
	return NewController(cfg, store, classifier, composer, notifier, memory), memory
}

// ─── Text Reply Tests ───────────────────────────────────────────────────────

func TestHandleTextReply_Promise(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))
	ctrl, _ := newTestController(store, &fakeClassifier{intent: domain.IntentPaymentPromised}, &fakeComposer{}, notifier)

	err := ctrl.HandleTextReply(context.Background(), "whatsapp:+919876543210", "I will pay tomorrow")
	if err != nil {
		t.Fatalf("HandleTextReply() error: %v", err)
	}

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.Status != domain.StatusPromised {
		t.Errorf("status = %q, want promised", got.Status)
	}
	if got.PromisedUntil == nil || !got.PromisedUntil.Equal(schedNow.Add(24*time.Hour)) {
		t.Errorf("promised_until = %v", got.PromisedUntil)
	}
	if len(notifier.direct) == 0 || !strings.Contains(notifier.direct[0], "promise noted") {
		t.Errorf("no acknowledgement sent: %v", notifier.direct)
	}

	var hasReply, hasSystem bool
	for _, h := range got.History {
		if h.Channel == domain.ChannelCustomerReply && h.DeliveryStatus == domain.Received {
			hasReply = true
		}
		if h.Channel == domain.ChannelSystem {
			hasSystem = true
		}
	}
	if !hasReply || !hasSystem {
		t.Errorf("history = %+v, want reply and system entries", got.History)
	}
}

func TestHandleTextReply_Extension(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}
	inv := overdueInvoice("inv-1", 5)
	inv.Status = domain.StatusOverdue
	inv.ReminderLevel = 2
	store.CreateInvoice(context.Background(), inv)
	ctrl, _ := newTestController(store, &fakeClassifier{intent: domain.IntentExtensionRequested}, &fakeComposer{}, notifier)

	if err := ctrl.HandleTextReply(context.Background(), "+919876543210", "need a few days"); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if !got.DueDate.Equal(schedNow.Add(3 * 24 * time.Hour)) {
		t.Errorf("due date = %v, want now+3d", got.DueDate)
	}
	if got.ReminderLevel != 1 {
		t.Errorf("level = %d, want stepped back to 1", got.ReminderLevel)
	}
}

func TestHandleTextReply_ExtensionLevelFloorsAtZero(t *testing.T) {
	store := newFakeInvoices()
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))
	ctrl, _ := newTestController(store, &fakeClassifier{intent: domain.IntentExtensionRequested}, &fakeComposer{}, &fakeNotifier{})

	ctrl.HandleTextReply(context.Background(), "+919876543210", "later please")

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.ReminderLevel != 0 {
		t.Errorf("level = %d, want 0", got.ReminderLevel)
	}
}

func TestHandleTextReply_Dispute(t *testing.T) {
	store := newFakeInvoices()
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))
	ctrl, _ := newTestController(store, &fakeClassifier{intent: domain.IntentDispute}, &fakeComposer{}, &fakeNotifier{})

	ctrl.HandleTextReply(context.Background(), "+919876543210", "this amount is wrong")

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.Status != domain.StatusDisputed {
		t.Errorf("status = %q, want disputed", got.Status)
	}
}

func TestHandleTextReply_UnknownRecordsOnly(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))
	ctrl, _ := newTestController(store, &fakeClassifier{intent: domain.IntentUnknown}, &fakeComposer{}, notifier)

	ctrl.HandleTextReply(context.Background(), "+919876543210", "weather is nice")

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.Status != domain.StatusUnpaid {
		t.Errorf("status = %q, want unchanged", got.Status)
	}
	if len(got.History) != 1 || got.History[0].Channel != domain.ChannelCustomerReply {
		t.Errorf("history = %+v, want single reply entry", got.History)
	}
	if len(notifier.direct) != 0 {
		t.Errorf("unexpected acknowledgement: %v", notifier.direct)
	}
}

func TestHandleTextReply_NoInvoiceIsNoop(t *testing.T) {
	ctrl, _ := newTestController(newFakeInvoices(), &fakeClassifier{intent: domain.IntentPaymentPromised}, &fakeComposer{}, &fakeNotifier{})
	if err := ctrl.HandleTextReply(context.Background(), "+910000000000", "hi"); err != nil {
		t.Errorf("unknown sender should be a no-op, got %v", err)
	}
}

// ─── Voice Turn Tests ───────────────────────────────────────────────────────

func TestHandleVoiceTurn_EmptySpeechReprompts(t *testing.T) {
	ctrl, _ := newTestController(newFakeInvoices(), &fakeClassifier{}, &fakeComposer{}, &fakeNotifier{})

	reply, err := ctrl.HandleVoiceTurn(context.Background(), "+919876543210", "+15550001111", "")
	if err != nil {
		t.Fatal(err)
	}
	if reply.EndCall {
		t.Error("re-prompt should keep the call open")
	}
	if !strings.Contains(reply.Text, "Are you there") {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestHandleVoiceTurn_NoInvoiceHangsUpPolitely(t *testing.T) {
	ctrl, _ := newTestController(newFakeInvoices(), &fakeClassifier{}, &fakeComposer{}, &fakeNotifier{})

	reply, err := ctrl.HandleVoiceTurn(context.Background(), "+919876543210", "+15550001111", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !reply.EndCall {
		t.Error("want hangup")
	}
	if !strings.Contains(reply.Text, "no pending dues") {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestHandleVoiceTurn_ShortPhoneHangsUp(t *testing.T) {
	ctrl, _ := newTestController(newFakeInvoices(), &fakeClassifier{}, &fakeComposer{}, &fakeNotifier{})

	reply, _ := ctrl.HandleVoiceTurn(context.Background(), "12345", "+15550001111", "hello")
	if !reply.EndCall || !strings.Contains(reply.Text, "identify") {
		t.Errorf("reply = %+v", reply)
	}
}

func TestHandleVoiceTurn_ContinuingTurnKeepsMemory(t *testing.T) {
	store := newFakeInvoices()
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))
	composer := &fakeComposer{reply: "When can you pay?", endCall: false}
	ctrl, memory := newTestController(store, &fakeClassifier{intent: domain.IntentUnknown}, composer, &fakeNotifier{})

	reply, err := ctrl.HandleVoiceTurn(context.Background(), "+919876543210", "+15550001111", "who is this?")
	if err != nil {
		t.Fatal(err)
	}
	if reply.EndCall {
		t.Error("conversation should continue")
	}

	turns := memory.History("inv-1")
	if len(turns) != 2 {
		t.Fatalf("memory turns = %d, want 2", len(turns))
	}
	if turns[0].Role != domain.RoleCustomer || turns[1].Role != domain.RoleAgent {
		t.Errorf("turn roles = %v, %v", turns[0].Role, turns[1].Role)
	}

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if len(got.History) != 1 || got.History[0].Channel != domain.ChannelVoiceCall {
		t.Errorf("history = %+v, want one voice_call entry", got.History)
	}
}

func TestHandleVoiceTurn_CustomerIsCalleeWhenWeDial(t *testing.T) {
	store := newFakeInvoices()
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))
	composer := &fakeComposer{reply: "Namaste ji", endCall: false}
	ctrl, _ := newTestController(store, &fakeClassifier{intent: domain.IntentUnknown}, composer, &fakeNotifier{})

	// Outbound call: From is our number, To is the customer.
	reply, err := ctrl.HandleVoiceTurn(context.Background(), "+15550001111", "+919876543210", "haan boliye")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "Namaste ji" {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestHandleVoiceTurn_EndCallAppliesPromise(t *testing.T) {
	store := newFakeInvoices()
	notifier := &fakeNotifier{}
	store.CreateInvoice(context.Background(), overdueInvoice("inv-1", 2))
	composer := &fakeComposer{reply: "Thank you, please pay soon. Goodbye!", endCall: true}
	ctrl, memory := newTestController(store, &fakeClassifier{intent: domain.IntentPaymentPromised}, composer, notifier)

	reply, err := ctrl.HandleVoiceTurn(context.Background(), "+919876543210", "+15550001111", "I will pay tomorrow")
	if err != nil {
		t.Fatal(err)
	}
	if !reply.EndCall {
		t.Error("want hangup")
	}

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if got.Status != domain.StatusPromised {
		t.Errorf("status = %q, want promised", got.Status)
	}
	if len(memory.History("inv-1")) != 0 {
		t.Error("memory not cleared after call end")
	}

	var upiSent bool
	for _, d := range notifier.direct {
		if strings.Contains(d, "upi://pay") {
			upiSent = true
		}
	}
	if !upiSent {
		t.Errorf("UPI follow-up not sent: %v", notifier.direct)
	}
}

func TestHandleVoiceTurn_EndCallAppliesExtension(t *testing.T) {
	store := newFakeInvoices()
	inv := overdueInvoice("inv-1", 5)
	inv.ReminderLevel = 3
	inv.Status = domain.StatusOverdue
	store.CreateInvoice(context.Background(), inv)
	composer := &fakeComposer{reply: "Okay, some more days. Goodbye!", endCall: true}
	ctrl, _ := newTestController(store, &fakeClassifier{intent: domain.IntentExtensionRequested}, composer, &fakeNotifier{})

	ctrl.HandleVoiceTurn(context.Background(), "+919876543210", "+15550001111", "need more time")

	got, _ := store.GetInvoice(context.Background(), "inv-1")
	if !got.DueDate.Equal(schedNow.Add(3 * 24 * time.Hour)) {
		t.Errorf("due date = %v", got.DueDate)
	}
	if got.ReminderLevel != 2 {
		t.Errorf("level = %d, want 2", got.ReminderLevel)
	}
}
