package gatewayfile

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/fileio"
	"payment-reconciliation-engine/internal/gatewayconfig"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/errors"
)

// nullSentinels map to the "NA" missing-value marker, case-insensitive.
var nullSentinels = map[string]bool{
	"":     true,
	"none": true,
	"null": true,
	"nan":  true,
}

// Normalize turns a raw parsed table into the canonical form for one
// gateway side. Steps, in order: required-column validation, leading
// spacer slice, end-of-statement trailer drop, date coercion, numeric
// scrub, string normalization, reference fill from details, and synthetic
// replacement of missing references.
func Normalize(raw *fileio.RawTable, cfg *gatewayconfig.GatewayFileConfig, gateway, sourceFile string) (*Table, error) {
	headers, rows := sliceSpacer(raw.Headers, raw.Rows, cfg.SliceColumns)

	if missing := missingColumns(headers, cfg.RequiredColumns); len(missing) > 0 {
		return nil, errors.ColumnValidation(sourceFile, missing)
	}

	rows = dropTrailer(rows, cfg.EndOfDataSignal)

	columns := resolveColumns(headers, cfg)
	table := NewTable(gateway, models.SideOf(gateway), sourceFile)

	for _, row := range rows {
		if blankRow(row) {
			continue
		}

		cell := func(col int) string {
			if col < 0 || col >= len(row) {
				return ""
			}
			return row[col]
		}

		reference := normalizeString(cell(columns.reference))
		details := normalizeString(cell(columns.details))
		if columns.reference < 0 {
			// Layouts without a reference column match on the narrative.
			reference = details
		}
		if reference == models.MissingReference {
			reference = models.SyntheticReference(cfg.Name)
		}

		table.Append(Row{
			Date:      parseDate(cell(columns.date), cfg.DateFormat),
			Reference: reference,
			Details:   details,
			Status:    normalizeString(cell(columns.status)),
			Remark:    normalizeString(cell(columns.remark)),
			Debit:     parseAmount(cell(columns.debit)),
			Credit:    parseAmount(cell(columns.credit)),
		})
	}

	return table, nil
}

type columnIndexes struct {
	date, reference, details, status, remark, debit, credit int
}

func resolveColumns(headers []string, cfg *gatewayconfig.GatewayFileConfig) columnIndexes {
	find := func(role string) int {
		name := cfg.ColumnFor(role)
		if name == "" {
			return -1
		}
		for i, header := range headers {
			if strings.EqualFold(strings.TrimSpace(header), strings.TrimSpace(name)) {
				return i
			}
		}
		return -1
	}
	return columnIndexes{
		date:      find(gatewayconfig.ColumnDate),
		reference: find(gatewayconfig.ColumnReference),
		details:   find(gatewayconfig.ColumnDetails),
		status:    find(gatewayconfig.ColumnStatus),
		remark:    find(gatewayconfig.ColumnRemark),
		debit:     find(gatewayconfig.ColumnDebit),
		credit:    find(gatewayconfig.ColumnCredit),
	}
}

func sliceSpacer(headers []string, rows [][]string, spacer int) ([]string, [][]string) {
	if spacer <= 0 {
		return headers, rows
	}
	sliced := make([][]string, len(rows))
	for i, row := range rows {
		if spacer < len(row) {
			sliced[i] = row[spacer:]
		} else {
			sliced[i] = nil
		}
	}
	if spacer < len(headers) {
		headers = headers[spacer:]
	} else {
		headers = nil
	}
	return headers, sliced
}

func missingColumns(headers, required []string) []string {
	var missing []string
	for _, name := range required {
		found := false
		for _, header := range headers {
			if strings.EqualFold(strings.TrimSpace(header), strings.TrimSpace(name)) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, name)
		}
	}
	return missing
}

// dropTrailer truncates the rows strictly before the first row containing
// the configured end-of-statement marker in any column.
func dropTrailer(rows [][]string, signal string) [][]string {
	if signal == "" {
		return rows
	}
	for i, row := range rows {
		for _, cell := range row {
			if strings.Contains(cell, signal) {
				return rows[:i]
			}
		}
	}
	return rows
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// parseDate coerces a date cell using the configured layout. Unparseable
// values become nil; date coercion never fails a file.
func parseDate(value, layout string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" || layout == "" {
		return nil
	}
	parsed, err := time.Parse(layout, value)
	if err != nil {
		return nil
	}
	return &parsed
}

// parseAmount scrubs spreadsheet noise from a numeric cell and returns the
// absolute decimal value. Amounts are stored unsigned; unparseable cells
// become zero.
func parseAmount(value string) decimal.Decimal {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "'")
	value = strings.ReplaceAll(value, ",", "")

	var cleaned strings.Builder
	for _, r := range value {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			cleaned.WriteRune(r)
		}
	}
	scrubbed := strings.TrimLeft(cleaned.String(), "-")
	if scrubbed == "" || scrubbed == "." {
		return decimal.Zero
	}

	parsed, err := decimal.NewFromString(scrubbed)
	if err != nil {
		return decimal.Zero
	}
	return parsed.Abs().Round(2)
}

// normalizeString trims a cell and maps null-ish values to the "NA"
// missing sentinel.
func normalizeString(value string) string {
	trimmed := strings.TrimSpace(value)
	if nullSentinels[strings.ToLower(trimmed)] {
		return models.MissingReference
	}
	return trimmed
}
