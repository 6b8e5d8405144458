package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"payment-reconciliation-engine/internal/reporter"
	"payment-reconciliation-engine/pkg/errors"
)

var (
	reportGateway string
	reportFormat  string
	reportFrom    string
	reportTo      string
	reportRunID   string
	reportOutput  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a reconciliation report",
	Long: `Report exports a gateway's transactions as a flat CSV or an
eight-sheet XLSX workbook. Date filters are inclusive of the whole day.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportGateway, "gateway", "g", "", "base gateway name (required)")
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "xlsx", "report format: xlsx or csv")
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "start date (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "end date (YYYY-MM-DD, inclusive)")
	reportCmd.Flags().StringVar(&reportRunID, "run-id", "", "restrict to one run")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", ".", "output directory or file path")
	reportCmd.MarkFlagRequired("gateway")
}

func runReport(cmd *cobra.Command, args []string) error {
	from, err := parseReportDate(reportFrom, "from")
	if err != nil {
		return err
	}
	to, err := parseReportDate(reportTo, "to")
	if err != nil {
		return err
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}

	data, filename, err := reporter.New(eng.store).Generate(cmd.Context(), reporter.Request{
		Gateway: reportGateway,
		Format:  reporter.Format(reportFormat),
		From:    from,
		To:      to,
		RunID:   reportRunID,
	})
	if err != nil {
		return err
	}

	path := reportOutput
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, filename)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CategoryFile, errors.CodeReadError,
			fmt.Sprintf("cannot write report to %s", path))
	}

	fmt.Printf("Report written to %s\n", path)
	return nil
}

func parseReportDate(value, name string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, errors.New(errors.CategoryValidation, errors.CodeInvalidConfig,
			fmt.Sprintf("invalid --%s date %q, expected YYYY-MM-DD", name, value))
	}
	return &parsed, nil
}
