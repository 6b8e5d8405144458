package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// HandleError prints a user-facing description of err and returns the
// process exit code for it.
func HandleError(err error) int {
	if err == nil {
		return 0
	}

	logger.GetGlobalLogger().WithComponent("cli").WithError(err).Error("Command failed")

	engineErr, ok := errors.AsEngineError(err)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stderr, "Error: %s\n", engineErr.Message)
	if len(engineErr.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range engineErr.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}
	if engineErr.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", engineErr.Suggestion)
	}
	if viper.GetBool("verbose") && engineErr.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", engineErr.Cause)
	}
	return engineErr.ExitCode()
}
