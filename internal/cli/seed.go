package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiranalink/khata/internal/api"
	"github.com/kiranalink/khata/internal/daemon"
	"github.com/kiranalink/khata/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo customers",
	Long: `Insert a small set of demo customers into the database. Customers
whose phone number already exists are skipped, so seeding is safe to
repeat.`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
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

	created, err := api.SeedProfiles(cmd.Context(), db)
	if err != nil {
		return fmt.Errorf("seed customers: %w", err)
	}
	for _, p := range created {
		fmt.Fprintf(os.Stdout, "seeded %s (%s) score=%d limit=₹%d\n", p.Name, p.Phone, p.Score, p.CreditLimit)
	}
	fmt.Fprintf(os.Stdout, "%d customers seeded\n", len(created))
	return nil
}
