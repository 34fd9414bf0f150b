// Package cli implements the khatad command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "khatad",
	Short: "KiranaLink khata daemon",
	Long: `khatad runs the KiranaLink khata service: a digital credit ledger for
kirana shops with automatic risk scoring and staged payment reminders
over WhatsApp, SMS, voice calls, and email.

Behavior is configured through a TOML file (--config); provider
credentials (Twilio, SMTP, LLM) come from environment variables and
degrade gracefully when absent.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "khata.toml", "Path to the TOML config file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
