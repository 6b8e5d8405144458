// Package classifier partitions normalized gateway tables into the typed
// sets the reconciler matches and persists. External statements split into
// deposits, charges and debits; internal ledgers into payouts, refunds and
// top-ups.
package classifier

import (
	"strings"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/gatewayfile"
	"payment-reconciliation-engine/internal/models"
)

// SystemReconciledNote is the provenance note written on rows the engine
// reconciles automatically at insert time.
const SystemReconciledNote = "System Reconciled"

// Tag carries the constant classification metadata shared by every row of
// a partition.
type Tag struct {
	Type     models.TransactionType
	Category models.ReconciliationCategory
	Status   models.ReconciliationStatus
	Note     string
}

// Partition is one classified subset of a gateway table.
type Partition struct {
	Table *gatewayfile.Table
	Tag   Tag
}

// Len returns the partition's row count.
func (p *Partition) Len() int {
	if p == nil || p.Table == nil {
		return 0
	}
	return p.Table.Len()
}

// ExternalPartitions are the classified subsets of an external statement.
type ExternalPartitions struct {
	Deposits *Partition
	Charges  *Partition
	Debits   *Partition
}

// InternalPartitions are the classified subsets of an internal ledger.
type InternalPartitions struct {
	Payouts *Partition
	Refunds *Partition
	Topups  *Partition
}

// IsCharge reports whether a narrative or reference matches any charge
// keyword. Keywords are substrings, matched case-insensitively.
func IsCharge(narrative, reference string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	narrative = strings.ToLower(narrative)
	reference = strings.ToLower(reference)
	for _, keyword := range keywords {
		keyword = strings.ToLower(keyword)
		if keyword == "" {
			continue
		}
		if strings.Contains(narrative, keyword) || strings.Contains(reference, keyword) {
			return true
		}
	}
	return false
}

// ClassifyExternal partitions an external statement table. Rows satisfying
// none of the charge/deposit/debit criteria (zero-amount informational
// lines) are discarded. keywords must already be the merged union of both
// gateway sides.
func ClassifyExternal(table *gatewayfile.Table, keywords []string) *ExternalPartitions {
	deposits := subsetOf(table)
	charges := subsetOf(table)
	debits := subsetOf(table)

	one := decimal.NewFromInt(1)
	for i := 0; i < table.Len(); i++ {
		row := table.RowAt(i)
		charge := IsCharge(row.Details, row.Reference, keywords)
		switch {
		case charge && row.Debit.IsPositive():
			charges.Append(row)
		case row.Credit.GreaterThanOrEqual(one):
			deposits.Append(row)
		case !charge && row.Debit.GreaterThanOrEqual(one):
			debits.Append(row)
		}
	}

	return &ExternalPartitions{
		Deposits: &Partition{Table: deposits, Tag: Tag{
			Type:     models.TypeDeposit,
			Category: models.CategoryAutoReconciled,
			Status:   models.StatusReconciled,
			Note:     SystemReconciledNote,
		}},
		Charges: &Partition{Table: charges, Tag: Tag{
			Type:     models.TypeCharge,
			Category: models.CategoryAutoReconciled,
			Status:   models.StatusReconciled,
			Note:     SystemReconciledNote,
		}},
		Debits: &Partition{Table: debits, Tag: Tag{
			Type:     models.TypeDebit,
			Category: models.CategoryReconcilable,
			Status:   models.StatusUnreconciled,
		}},
	}
}

// ClassifyInternal partitions an internal ledger table. Refunds are rows
// whose status contains "refund" or whose remark mentions a refund;
// top-ups are rows carrying the configured top-up remark. Everything else
// is a payout.
func ClassifyInternal(table *gatewayfile.Table, topupMarker string) *InternalPartitions {
	payouts := subsetOf(table)
	refunds := subsetOf(table)
	topups := subsetOf(table)

	for i := 0; i < table.Len(); i++ {
		row := table.RowAt(i)
		switch {
		case isRefund(row.Status, row.Remark):
			refunds.Append(row)
		case isTopup(row.Remark, topupMarker):
			topups.Append(row)
		default:
			payouts.Append(row)
		}
	}

	return &InternalPartitions{
		Payouts: &Partition{Table: payouts, Tag: Tag{
			Type:     models.TypePayout,
			Category: models.CategoryReconcilable,
			Status:   models.StatusUnreconciled,
		}},
		Refunds: &Partition{Table: refunds, Tag: Tag{
			Type:     models.TypeRefund,
			Category: models.CategoryNonReconcilable,
			Status:   models.StatusUnreconciled,
		}},
		Topups: &Partition{Table: topups, Tag: Tag{
			Type:     models.TypeRefund,
			Category: models.CategoryNonReconcilable,
			Status:   models.StatusUnreconciled,
			Note:     "Wallet top-up",
		}},
	}
}

func isRefund(status, remark string) bool {
	return strings.Contains(strings.ToLower(status), "refund") ||
		strings.Contains(strings.ToLower(remark), "refund")
}

func isTopup(remark, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(remark), strings.TrimSpace(marker))
}

func subsetOf(table *gatewayfile.Table) *gatewayfile.Table {
	return gatewayfile.NewTable(table.Gateway, table.Side, table.SourceFile)
}
