package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiranalink/khata/internal/daemon"
	"github.com/kiranalink/khata/internal/infra/scoring"
	"github.com/kiranalink/khata/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(scoreCmd)
}

var scoreCmd = &cobra.Command{
	Use:   "score CUSTOMER_ID",
	Short: "Recompute a customer's credit score",
	Long: `Recompute the credit score for one customer from their full ledger
history and persist the result. Useful for inspecting scoring inputs
without going through the HTTP API.`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func runScore(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := daemon.Load(configPath)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.Storage.Path, err)
	}
	defer db.Close()

	engine := scoring.NewEngine(scoring.Config{Unit: cfg.Scoring.TimeUnitDuration()}, db, db)
	result, err := engine.Recompute(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("recompute score for %s: %w", args[0], err)
	}

	fmt.Fprintf(os.Stdout, "Customer:     %s\n", args[0])
	fmt.Fprintf(os.Stdout, "Score:        %d (raw %d)\n", result.Score, result.RawScore)
	fmt.Fprintf(os.Stdout, "Khata limit:  ₹%d\n", result.Limit)
	fmt.Fprintf(os.Stdout, "Timeliness:   %.1f\n", result.Components.Timeliness)
	fmt.Fprintf(os.Stdout, "Consistency:  %.1f\n", result.Components.Consistency)
	fmt.Fprintf(os.Stdout, "Outstanding:  %.1f\n", result.Components.Outstanding)
	fmt.Fprintf(os.Stdout, "Recency:      %.1f\n", result.Components.Recency)
	return nil
}
