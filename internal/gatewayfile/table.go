// Package gatewayfile normalizes raw gateway uploads into the canonical
// tabular form the classifier and reconciler operate on.
//
// The canonical table is a struct of column vectors with a fixed schema
// (Date, Reference, Details, Debit, Credit, plus the internal-side Status
// and Remark columns) and per-table source metadata. This shape supports
// both streaming row access and vectorized passes over single columns.
package gatewayfile

import (
	"time"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/models"
)

// Table is the canonical normalized form of one gateway-side upload.
type Table struct {
	Gateway    string
	Side       models.GatewaySide
	SourceFile string

	Date      []*time.Time
	Reference []string
	Details   []string
	Status    []string
	Remark    []string
	Debit     []decimal.Decimal
	Credit    []decimal.Decimal
}

// Row is one materialized line of a canonical table.
type Row struct {
	Date      *time.Time
	Reference string
	Details   string
	Status    string
	Remark    string
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// NewTable creates an empty canonical table for a gateway side.
func NewTable(gateway string, side models.GatewaySide, sourceFile string) *Table {
	return &Table{
		Gateway:    gateway,
		Side:       side,
		SourceFile: sourceFile,
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Reference)
}

// Append adds one row to the table.
func (t *Table) Append(row Row) {
	t.Date = append(t.Date, row.Date)
	t.Reference = append(t.Reference, row.Reference)
	t.Details = append(t.Details, row.Details)
	t.Status = append(t.Status, row.Status)
	t.Remark = append(t.Remark, row.Remark)
	t.Debit = append(t.Debit, row.Debit)
	t.Credit = append(t.Credit, row.Credit)
}

// RowAt materializes row i.
func (t *Table) RowAt(i int) Row {
	return Row{
		Date:      t.Date[i],
		Reference: t.Reference[i],
		Details:   t.Details[i],
		Status:    t.Status[i],
		Remark:    t.Remark[i],
		Debit:     t.Debit[i],
		Credit:    t.Credit[i],
	}
}
