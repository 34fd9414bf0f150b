// Package api provides the HTTP server: customer and ledger endpoints,
// invoice management, provider webhooks, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiranalink/khata/internal/app/collections"
	"github.com/kiranalink/khata/internal/app/khata"
	"github.com/kiranalink/khata/internal/domain"
)

// Server is the khata HTTP API server.
type Server struct {
	khata      *khata.Service
	controller *collections.Controller
	profiles   domain.ProfileStore
	invoices   domain.InvoiceStore
	ledger     domain.LedgerStore

	baseURL        string // public URL Twilio calls back to
	metricsEnabled bool
	now            func() time.Time
}

// NewServer creates a new API server.
func NewServer(svc *khata.Service, controller *collections.Controller, profiles domain.ProfileStore, invoices domain.InvoiceStore, ledger domain.LedgerStore, baseURL string) *Server {
	return &Server{
		khata:      svc,
		controller: controller,
		profiles:   profiles,
		invoices:   invoices,
		ledger:     ledger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		now:        time.Now,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/customers", func(r chi.Router) {
		r.Post("/", s.handleUpsertCustomer)
		r.Get("/", s.handleListCustomers)
		r.Post("/seed", s.handleSeedCustomers)
		r.Get("/{id}", s.handleGetCustomer)
		r.Get("/{id}/score", s.handleCustomerScore)
		r.Get("/{id}/ledger", s.handleCustomerLedger)
		r.Post("/{id}/ledger", s.handleRecordEntry)
	})

	r.Route("/api/invoices", func(r chi.Router) {
		r.Post("/", s.handleCreateInvoice)
		r.Get("/", s.handleListInvoices)
		r.Get("/overdue", s.handleListOverdue)
		r.Get("/{id}", s.handleGetInvoice)
		r.Put("/{id}/status", s.handleUpdateStatus)
		r.Put("/{id}/payment", s.handleConfirmPayment)
		r.Post("/webhook/reply", s.handleReplyWebhook)
		r.Post("/webhook/voice", s.handleVoiceWebhook)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Customer Handlers ──────────────────────────────────────────────────────

type customerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

func (s *Server) handleUpsertCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "name and phone are required")
		return
	}

	phone, ok := NormalizePhone(req.Phone)
	if !ok {
		writeError(w, http.StatusBadRequest, "phone must contain at least 10 digits")
		return
	}

	// Same phone means same customer across shops.
	p, err := s.profiles.GetCustomerByPhone(r.Context(), phone)
	if errors.Is(err, domain.ErrCustomerNotFound) {
		p = &domain.CustomerProfile{
			ID:          uuid.NewString(),
			Score:       domain.ScoreDefault,
			CreditLimit: 3000,
		}
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up customer")
		return
	}

	p.Name = req.Name
	p.Phone = phone
	p.Email = req.Email
	if err := s.profiles.UpsertCustomer(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save customer")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.profiles.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list customers")
		return
	}
	if customers == nil {
		customers = []domain.CustomerProfile{}
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrCustomerNotFound) {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load customer")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCustomerScore(w http.ResponseWriter, r *http.Request) {
	res, err := s.khata.Score(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrCustomerNotFound) {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute score")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCustomerLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := s.ledger.EntriesByCustomer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load ledger")
		return
	}
	balance, err := s.khata.Balance(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute balance")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance": balance,
		"entries": entries,
	})
}

type ledgerRequest struct {
	Amount int64  `json:"amount"`
	Kind   string `json:"kind"`
	ShopID string `json:"shop_id"`
}

func (s *Server) handleRecordEntry(w http.ResponseWriter, r *http.Request) {
	var req ledgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	entry, err := s.khata.RecordEntry(r.Context(), domain.LedgerEntry{
		CustomerID: chi.URLParam(r, "id"),
		ShopID:     req.ShopID,
		Amount:     req.Amount,
		Kind:       domain.EntryKind(req.Kind),
	})
	if errors.Is(err, domain.ErrCustomerNotFound) {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// seedCustomers are demo profiles for a fresh install.
var seedCustomers = []struct {
	Name  string
	Phone string
	Score int
}{
	{"Raju Kumar", "9876543210", 850},
	{"Anita Devi", "9876543211", 900},
	{"Suresh Yadav", "9876543212", 600},
	{"Meena Kumari", "9876543213", 780},
	{"Vikram Singh", "9876543214", 450},
}

// SeedProfiles inserts the demo customers, skipping phones that already
// exist. Shared by the seed endpoint and the CLI.
func SeedProfiles(ctx context.Context, profiles domain.ProfileStore) ([]domain.CustomerProfile, error) {
	var created []domain.CustomerProfile
	for _, seed := range seedCustomers {
		phone, _ := NormalizePhone(seed.Phone)
		if _, err := profiles.GetCustomerByPhone(ctx, phone); err == nil {
			continue // already seeded
		}
		p := &domain.CustomerProfile{
			ID:          uuid.NewString(),
			Name:        seed.Name,
			Phone:       phone,
			Score:       seed.Score,
			CreditLimit: seedLimit(seed.Score),
		}
		if err := profiles.UpsertCustomer(ctx, p); err != nil {
			return created, err
		}
		created = append(created, *p)
	}
	return created, nil
}

func (s *Server) handleSeedCustomers(w http.ResponseWriter, r *http.Request) {
	created, err := SeedProfiles(r.Context(), s.profiles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to seed customers")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"seeded":    len(created),
		"customers": created,
	})
}

func seedLimit(score int) int64 {
	switch {
	case score >= 800:
		return 10000
	case score >= 700:
		return 6000
	case score >= 600:
		return 3000
	case score >= 500:
		return 1000
	default:
		return 0
	}
}

// ─── Invoice Handlers ───────────────────────────────────────────────────────

type invoiceRequest struct {
	CustomerID string    `json:"customer_id"`
	Amount     int64     `json:"amount"`
	DueDate    time.Time `json:"due_date"`
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}
	if req.DueDate.IsZero() {
		writeError(w, http.StatusBadRequest, "due_date is required")
		return
	}

	inv, err := s.khata.NewInvoice(r.Context(), req.CustomerID, req.Amount, req.DueDate)
	if errors.Is(err, domain.ErrCustomerNotFound) {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.invoices.CreateInvoice(r.Context(), inv); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create invoice")
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.invoices.ListByStatus(r.Context(),
		domain.StatusUnpaid, domain.StatusOverdue, domain.StatusPaid,
		domain.StatusDisputed, domain.StatusPromised)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list invoices")
		return
	}
	if invoices == nil {
		invoices = []domain.Invoice{}
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (s *Server) handleListOverdue(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.invoices.ListByStatus(r.Context(), domain.StatusOverdue)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list overdue invoices")
		return
	}
	if invoices == nil {
		invoices = []domain.Invoice{}
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invoices.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrInvoiceNotFound) {
		writeError(w, http.StatusNotFound, "invoice not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load invoice")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status := domain.InvoiceStatus(req.Status)
	switch status {
	case domain.StatusUnpaid, domain.StatusOverdue, domain.StatusPaid,
		domain.StatusDisputed, domain.StatusPromised:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	inv, err := s.mutateInvoice(r, func(inv *domain.Invoice) {
		inv.Status = status
		if status != domain.StatusPromised {
			inv.PromisedUntil = nil
		}
	})
	if errors.Is(err, domain.ErrInvoiceNotFound) {
		writeError(w, http.StatusNotFound, "invoice not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update invoice")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	inv, err := s.mutateInvoice(r, func(inv *domain.Invoice) {
		inv.Status = domain.StatusPaid
		contacted := now
		inv.LastContactedAt = &contacted
		inv.PromisedUntil = nil
	})
	if errors.Is(err, domain.ErrInvoiceNotFound) {
		writeError(w, http.StatusNotFound, "invoice not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record payment")
		return
	}

	if err := s.invoices.AppendHistory(r.Context(), inv.ID, domain.ReminderHistoryEntry{
		Timestamp:      now,
		Channel:        domain.ChannelSystem,
		Content:        "Payment explicitly confirmed and recorded. Escalation halted.",
		DeliveryStatus: domain.Delivered,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record payment")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// mutateInvoice loads, mutates and conditionally saves an invoice,
// retrying once on a version conflict.
func (s *Server) mutateInvoice(r *http.Request, mutate func(*domain.Invoice)) (*domain.Invoice, error) {
	id := chi.URLParam(r, "id")
	for attempt := 0; attempt < 2; attempt++ {
		inv, err := s.invoices.GetInvoice(r.Context(), id)
		if err != nil {
			return nil, err
		}
		mutate(inv)
		err = s.invoices.UpdateInvoice(r.Context(), inv)
		if errors.Is(err, domain.ErrVersionConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}
		return inv, nil
	}
	return nil, domain.ErrVersionConflict
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// NormalizePhone canonicalizes an Indian phone number to +91 plus the
// last 10 digits. Numbers already carrying +91 pass through.
func NormalizePhone(phone string) (string, bool) {
	if strings.HasPrefix(phone, "+91") && len(phone) == 13 {
		return phone, true
	}
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < 10 {
		return "", false
	}
	return "+91" + d[len(d)-10:], true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
