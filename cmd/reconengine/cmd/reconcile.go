package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"payment-reconciliation-engine/internal/reconciler"
)

var (
	reconcileGateway string
	reconcilePreview bool
	reconcileUser    string
	reconcileJSON    bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run reconciliation for one gateway",
	Long: `Reconcile matches the gateway's uploaded external statement against
its internal ledger. With --preview the pipeline runs without writing
anything, reporting what a real run would do.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&reconcileGateway, "gateway", "g", "", "base gateway name, e.g. equity (required)")
	reconcileCmd.Flags().BoolVar(&reconcilePreview, "preview", false, "compute the outcome without writing")
	reconcileCmd.Flags().StringVar(&reconcileUser, "user", "", "user id recorded on the run")
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "print the full result as JSON")
	reconcileCmd.MarkFlagRequired("gateway")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}

	rec := reconciler.New(eng.store, eng.blobs, eng.configs, nil)

	var result *reconciler.Result
	if reconcilePreview {
		result, err = rec.Preview(cmd.Context(), reconcileGateway)
	} else {
		result, err = rec.Run(cmd.Context(), reconcileGateway, reconcileUser)
	}
	if err != nil {
		return err
	}

	if reconcileJSON {
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(encoded))
		return nil
	}

	printSummary(result)
	return nil
}

func printSummary(result *reconciler.Result) {
	mode := "Run"
	if result.Preview {
		mode = "Preview"
	}
	fmt.Printf("%s %s for gateway %s: %s\n", mode, result.RunID, result.Gateway, result.Status)
	s := result.Summary
	fmt.Printf("  external: %d (unmatched %d)\n", s.TotalExternal, s.UnmatchedExternal)
	fmt.Printf("  internal: %d (unmatched %d)\n", s.TotalInternal, s.UnmatchedInternal)
	fmt.Printf("  matched: %d (carry-forward %d)\n", s.Matched, s.CarryForwardMatched)
	fmt.Printf("  deposits: %d, charges: %d, reclassified charges: %d\n",
		s.Deposits, s.Charges, s.CarryForwardReclassifiedCharges)
	if result.Saved != nil {
		fmt.Printf("  saved: %d rows (%d duplicates skipped, %d carried forward)\n",
			result.Saved.Total, result.Saved.DuplicatesSkipped, result.Saved.CarryForwardUpdated)
	}
}
