package main

import (
	"os"

	"github.com/joho/godotenv"

	"payment-reconciliation-engine/cmd/reconengine/cmd"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	cmd.SetVersionInfo(version, commit, date)
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.HandleError(err))
	}
}
