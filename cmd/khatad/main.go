package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/kiranalink/khata/internal/cli"
)

func main() {
	// Provider credentials live in .env during local development; a
	// missing file is fine.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
