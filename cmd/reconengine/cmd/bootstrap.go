package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"payment-reconciliation-engine/internal/gatewayconfig"
)

var bootstrapGateway string

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Install default gateway file configurations",
	Long: `Bootstrap seeds workable default layouts for a gateway's external
statement and internal ledger, and creates its storage directory.
Existing configurations for the gateway are replaced.`,
	RunE: runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)

	bootstrapCmd.Flags().StringVarP(&bootstrapGateway, "gateway", "g", "", "base gateway name (required)")
	bootstrapCmd.MarkFlagRequired("gateway")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}

	err = eng.configs.Seed(cmd.Context(),
		gatewayconfig.DefaultExternalConfig(bootstrapGateway),
		gatewayconfig.DefaultInternalConfig(bootstrapGateway),
	)
	if err != nil {
		return err
	}
	if err := eng.blobs.EnsureGatewayDir(bootstrapGateway); err != nil {
		return err
	}

	fmt.Printf("Seeded default configurations for gateway %s\n", bootstrapGateway)
	return nil
}
