// Package reporter renders reconciliation results for downstream
// consumers: a flat CSV export or an eight-sheet XLSX workbook grouping
// transactions by side, status and type.
package reporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/store"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// Format selects the report output format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Sheet names of the workbook, in their fixed order. Every sheet is
// always present, even when empty.
var sheetOrder = []string{
	"Unreconciled External",
	"Unreconciled Internal",
	"Reconciled External",
	"Reconciled Internal",
	"Manual External",
	"Manual Internal",
	"Charges",
	"Deposits",
}

var columns = []string{
	"Date",
	"Transaction Reference",
	"Details",
	"Debit",
	"Credit",
	"Reconciliation Status",
	"Reconciliation Note",
	"Reconciliation Key",
	"Run ID",
}

// Request describes one report.
type Request struct {
	Gateway string
	Format  Format
	From    *time.Time
	To      *time.Time
	RunID   string
}

// Reporter generates reports from the transaction store.
type Reporter struct {
	store  *store.Store
	logger logger.Logger
}

// New creates a Reporter.
func New(st *store.Store) *Reporter {
	return &Reporter{
		store:  st,
		logger: logger.GetGlobalLogger().WithComponent("reporter"),
	}
}

// Generate renders the report and returns its bytes together with the
// canonical filename.
func (r *Reporter) Generate(ctx context.Context, req Request) ([]byte, string, error) {
	if req.Gateway == "" {
		return nil, "", errors.New(errors.CategoryValidation, errors.CodeInvalidConfig,
			"report gateway is required")
	}

	rows, err := r.store.ListTransactions(ctx, store.ReportFilter{
		Base:  req.Gateway,
		From:  req.From,
		To:    req.To,
		RunID: req.RunID,
	})
	if err != nil {
		return nil, "", err
	}

	var data []byte
	switch req.Format {
	case FormatCSV:
		data, err = renderCSV(rows)
	case FormatXLSX:
		data, err = renderWorkbook(rows)
	default:
		return nil, "", errors.New(errors.CategoryValidation, errors.CodeInvalidConfig,
			fmt.Sprintf("unsupported report format %q", req.Format))
	}
	if err != nil {
		return nil, "", err
	}

	r.logger.WithFields(logger.Fields{
		"gateway": req.Gateway,
		"format":  req.Format,
		"rows":    len(rows),
	}).Info("Report generated")
	return data, Filename(req), nil
}

// Filename builds the canonical report filename:
// reconciliation_{gateway}[_from_{d}][_to_{d}][_{run_id}].{ext}.
func Filename(req Request) string {
	var b strings.Builder
	b.WriteString("reconciliation_")
	b.WriteString(strings.ToLower(req.Gateway))
	if req.From != nil {
		b.WriteString("_from_")
		b.WriteString(req.From.Format("2006-01-02"))
	}
	if req.To != nil {
		b.WriteString("_to_")
		b.WriteString(req.To.Format("2006-01-02"))
	}
	if req.RunID != "" {
		b.WriteString("_")
		b.WriteString(req.RunID)
	}
	b.WriteString(".")
	b.WriteString(string(req.Format))
	return b.String()
}

func renderCSV(rows []models.Transaction) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(columns); err != nil {
		return nil, errors.Wrap(err, errors.CategoryFile, errors.CodeReadError,
			"cannot write report header")
	}
	for i := range rows {
		if err := writer.Write(recordFor(&rows[i])); err != nil {
			return nil, errors.Wrap(err, errors.CategoryFile, errors.CodeReadError,
				"cannot write report row")
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryFile, errors.CodeReadError,
			"cannot flush report")
	}
	return buf.Bytes(), nil
}

func renderWorkbook(rows []models.Transaction) ([]byte, error) {
	workbook := excelize.NewFile()
	defer workbook.Close()

	// The default sheet becomes the first of the fixed set.
	if err := workbook.SetSheetName("Sheet1", sheetOrder[0]); err != nil {
		return nil, errors.Wrap(err, errors.CategoryFile, errors.CodeReadError,
			"cannot initialize workbook")
	}
	for _, name := range sheetOrder[1:] {
		if _, err := workbook.NewSheet(name); err != nil {
			return nil, errors.Wrap(err, errors.CategoryFile, errors.CodeReadError,
				fmt.Sprintf("cannot create sheet %s", name))
		}
	}

	next := make(map[string]int, len(sheetOrder))
	for _, name := range sheetOrder {
		header := make([]interface{}, len(columns))
		for i, c := range columns {
			header[i] = c
		}
		if err := workbook.SetSheetRow(name, "A1", &header); err != nil {
			return nil, errors.Wrap(err, errors.CategoryFile, errors.CodeReadError,
				fmt.Sprintf("cannot write header for sheet %s", name))
		}
		next[name] = 2
	}

	for i := range rows {
		tx := &rows[i]
		sheet := sheetFor(tx)
		record := recordFor(tx)
		cells := make([]interface{}, len(record))
		for j, value := range record {
			cells[j] = value
		}
		anchor := fmt.Sprintf("A%d", next[sheet])
		if err := workbook.SetSheetRow(sheet, anchor, &cells); err != nil {
			return nil, errors.Wrap(err, errors.CategoryFile, errors.CodeReadError,
				fmt.Sprintf("cannot write row to sheet %s", sheet))
		}
		next[sheet]++
	}

	var buf bytes.Buffer
	if err := workbook.Write(&buf); err != nil {
		return nil, errors.Wrap(err, errors.CategoryFile, errors.CodeReadError,
			"cannot serialize workbook")
	}
	return buf.Bytes(), nil
}

// sheetFor assigns a transaction to its workbook sheet. Charges and
// deposits win over everything; the manual overlay wins over the system
// status; the rest group by side and status.
func sheetFor(tx *models.Transaction) string {
	switch {
	case tx.TransactionType == models.TypeCharge:
		return "Charges"
	case tx.TransactionType == models.TypeDeposit:
		return "Deposits"
	case tx.IsManuallyReconciled == models.ManuallyReconciled:
		if tx.IsExternal() {
			return "Manual External"
		}
		return "Manual Internal"
	case tx.ReconciliationStatus == models.StatusReconciled:
		if tx.IsExternal() {
			return "Reconciled External"
		}
		return "Reconciled Internal"
	default:
		if tx.IsExternal() {
			return "Unreconciled External"
		}
		return "Unreconciled Internal"
	}
}

func recordFor(tx *models.Transaction) []string {
	date := ""
	if tx.Date != nil {
		date = tx.Date.Format("2006-01-02")
	}
	debit := ""
	if tx.Debit.Valid {
		debit = tx.Debit.Decimal.StringFixed(2)
	}
	credit := ""
	if tx.Credit.Valid {
		credit = tx.Credit.Decimal.StringFixed(2)
	}
	return []string{
		date,
		tx.TransactionID,
		tx.Narrative,
		debit,
		credit,
		string(tx.ReconciliationStatus),
		noteFor(tx),
		tx.KeyOrEmpty(),
		tx.RunID,
	}
}

// noteFor prefers the manual note over the system note when present.
func noteFor(tx *models.Transaction) string {
	if tx.ManualReconNote != "" {
		return tx.ManualReconNote
	}
	return tx.ReconciliationNote
}
