package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranalink/khata/internal/api"
	"github.com/kiranalink/khata/internal/app/collections"
	"github.com/kiranalink/khata/internal/app/khata"
	"github.com/kiranalink/khata/internal/daemon"
	"github.com/kiranalink/khata/internal/infra/convmem"
	"github.com/kiranalink/khata/internal/infra/escalation"
	"github.com/kiranalink/khata/internal/infra/llm"
	"github.com/kiranalink/khata/internal/infra/notify"
	"github.com/kiranalink/khata/internal/infra/scoring"
	"github.com/kiranalink/khata/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("seed", false, "Insert demo customers on startup")
	serveCmd.Flags().Bool("no-metrics", false, "Disable the /metrics endpoint")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the khata daemon",
	Long: `Start the HTTP API and the collections scheduler. The process runs
until interrupted; SIGINT or SIGTERM triggers a graceful shutdown.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	seed, _ := cmd.Flags().GetBool("seed")
	noMetrics, _ := cmd.Flags().GetBool("no-metrics")

	cfg, err := daemon.Load(configPath)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.Storage.Path, err)
	}
	defer db.Close()

	// ─── Wiring ─────────────────────────────────────────────────────────

	engine := scoring.NewEngine(scoring.Config{
		Unit: cfg.Scoring.TimeUnitDuration(),
		Now:  time.Now,
	}, db, db)

	svcCfg := khata.DefaultConfig()
	svc := khata.NewService(svcCfg, db, db, engine)

	unit := cfg.Collections.TimeUnitDuration()
	policy := escalation.NewPolicy(escalation.Config{
		Thresholds: escalation.Thresholds{
			L1: cfg.Collections.Level1After,
			L2: cfg.Collections.Level2After,
			L3: cfg.Collections.Level3After,
			L4: cfg.Collections.Level4After,
		},
		Unit: unit,
	})

	client := llm.NewClient(llm.DefaultConfig(os.Getenv("OPENAI_API_KEY")))
	if client.Enabled() {
		log.Printf("[khatad] LLM client enabled")
	} else {
		log.Printf("[khatad] no OPENAI_API_KEY; using keyword classifier and template messages")
	}
	classifier := llm.NewClassifier(client)
	composer := llm.NewComposer(client)

	notifier := notify.New(notifierConfig())
	memory := convmem.NewStore()

	schedCfg := collections.DefaultSchedulerConfig()
	schedCfg.ScanInterval = cfg.Collections.ScanIntervalDuration()
	if cfg.Collections.MaxConcurrent > 0 {
		schedCfg.MaxConcurrent = cfg.Collections.MaxConcurrent
	}
	schedCfg.PromiseGrace = time.Duration(cfg.Collections.PromiseGraceUnits * float64(unit))
	scheduler := collections.NewScheduler(schedCfg, db, policy, composer, notifier)

	ctrlCfg := collections.DefaultControllerConfig()
	ctrlCfg.Unit = unit
	ctrlCfg.ExtensionUnits = cfg.Collections.ExtensionUnits
	ctrlCfg.PromiseWindow = time.Duration(cfg.Collections.PromiseWindowUnits * float64(unit))
	ctrlCfg.VoiceNumber = os.Getenv("TWILIO_VOICE_NUMBER")
	if ctrlCfg.VoiceNumber == "" {
		ctrlCfg.VoiceNumber = os.Getenv("TWILIO_PHONE_NUMBER")
	}
	controller := collections.NewController(ctrlCfg, db, classifier, composer, notifier, memory)

	server := api.NewServer(svc, controller, db, db, db, cfg.API.BaseURL)
	if !noMetrics {
		server.EnableMetrics()
	}

	if seed {
		created, err := api.SeedProfiles(cmd.Context(), db)
		if err != nil {
			return fmt.Errorf("seed customers: %w", err)
		}
		log.Printf("[khatad] seeded %d demo customers", len(created))
	}

	// ─── Lifecycle ──────────────────────────────────────────────────────

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:         cfg.API.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go scheduler.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[khatad] listening on %s (base URL %s)", cfg.API.Addr(), cfg.API.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[khatad] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// notifierConfig assembles provider credentials from the environment.
// Missing credentials are fine; delivery degrades to simulation.
func notifierConfig() notify.Config {
	smtpPort := 587
	if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil && p > 0 {
		smtpPort = p
	}
	return notify.Config{
		Twilio: notify.TwilioConfig{
			AccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
			PhoneNumber:    os.Getenv("TWILIO_PHONE_NUMBER"),
			WhatsAppNumber: os.Getenv("TWILIO_WHATSAPP_NUMBER"),
			VoiceNumber:    os.Getenv("TWILIO_VOICE_NUMBER"),
		},
		SMTP: notify.SMTPConfig{
			Host: os.Getenv("SMTP_HOST"),
			Port: smtpPort,
			User: os.Getenv("SMTP_USER"),
			Pass: os.Getenv("SMTP_PASS"),
			From: os.Getenv("SMTP_FROM"),
		},
	}
}
