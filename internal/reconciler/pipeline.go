package reconciler

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/classifier"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/errors"
)

// amountSource selects which normalized column feeds the key amount.
type amountSource int

const (
	amountDebit amountSource = iota
	amountCredit
)

// keyedPartition couples a classified partition with the reconciliation
// key assigned to each of its rows.
type keyedPartition struct {
	part *classifier.Partition
	keys []string
}

// assignKeys generates the per-row reconciliation keys for a partition.
// Auto-reconciled and non-reconcilable partitions use the date-suffixed
// variant and in-run deduplication; reconcilable partitions use the bare
// base key, which is validated for collisions instead.
func assignKeys(part *classifier.Partition, base string, source amountSource, dated bool) *keyedPartition {
	table := part.Table
	keys := make([]string, table.Len())
	for i := 0; i < table.Len(); i++ {
		amount := table.Debit[i]
		if source == amountCredit {
			amount = table.Credit[i]
		}
		key := models.BaseKey(table.Reference[i], amount, base)
		if dated {
			key = models.DatedKey(key, table.Date[i])
		}
		keys[i] = key
	}
	if dated {
		keys = models.DeduplicateKeys(keys)
	}
	return &keyedPartition{part: part, keys: keys}
}

// matchable reports whether a row participates in matching. Rows whose
// source had no usable reference are excluded.
func matchable(reference string) bool {
	return reference != "" && reference != models.MissingReference
}

// validateNoDuplicateKeys fails when a reconcilable partition contains the
// same key twice. Duplicate keys among reconcilable rows would cause
// silent undercounting or arbitrary match ordering, so the run aborts
// before any write.
func validateNoDuplicateKeys(partitions ...*keyedPartition) error {
	type offender struct {
		reference string
		amount    decimal.Decimal
		count     int
		source    string
	}

	var offenders []offender
	for _, kp := range partitions {
		counts := make(map[string]int, len(kp.keys))
		first := make(map[string]int, len(kp.keys))
		for i, key := range kp.keys {
			if !matchable(kp.part.Table.Reference[i]) {
				continue
			}
			if counts[key] == 0 {
				first[key] = i
			}
			counts[key]++
		}
		for key, count := range counts {
			if count < 2 {
				continue
			}
			i := first[key]
			offenders = append(offenders, offender{
				reference: kp.part.Table.Reference[i],
				amount:    kp.part.Table.Debit[i],
				count:     count,
				source:    kp.part.Table.SourceFile,
			})
		}
	}
	if len(offenders) == 0 {
		return nil
	}

	limit := len(offenders)
	if limit > 10 {
		limit = 10
	}
	lines := make([]string, 0, limit)
	for _, o := range offenders[:limit] {
		lines = append(lines, fmt.Sprintf("ref=%s amount=%s count=%d source=%s",
			o.reference, o.amount, o.count, o.source))
	}
	return errors.ReconciliationError(errors.CodeDuplicateKeys,
		fmt.Sprintf("duplicate reconcilable keys detected: %s", strings.Join(lines, "; ")), nil).
		WithSuggestion("deduplicate the source export before re-uploading").
		WithContext("duplicate_count", len(offenders))
}

// keySet collects the matchable keys of a reconcilable partition.
func keySet(kp *keyedPartition) map[string]bool {
	set := make(map[string]bool, len(kp.keys))
	for i, key := range kp.keys {
		if matchable(kp.part.Table.Reference[i]) {
			set[key] = true
		}
	}
	return set
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

// carryForwardPool is the cross-run matching state loaded at the start of
// a run, plus the pending charge reclassifications discovered while
// splitting it.
type carryForwardPool struct {
	externalKeys map[string]bool
	internalKeys map[string]bool

	// reclassifyIDs are external pool rows whose narrative or reference
	// now matches a charge keyword. They leave the match pool; Run
	// applies the batch update, Preview only reports the count.
	reclassifyIDs []uint
}

// splitCarryForward partitions the unreconciled pool into per-side key
// sets and the pending charge reclassifications.
func splitCarryForward(rows []models.Transaction, keywords []string) *carryForwardPool {
	pool := &carryForwardPool{
		externalKeys: make(map[string]bool),
		internalKeys: make(map[string]bool),
	}
	for i := range rows {
		row := &rows[i]
		if row.IsExternal() && classifier.IsCharge(row.Narrative, row.TransactionID, keywords) {
			pool.reclassifyIDs = append(pool.reclassifyIDs, row.ID)
			continue
		}
		if row.ReconciliationCategory != models.CategoryReconcilable {
			continue
		}
		key := row.KeyOrEmpty()
		if key == "" {
			continue
		}
		if row.IsExternal() {
			pool.externalKeys[key] = true
		} else {
			pool.internalKeys[key] = true
		}
	}
	return pool
}

// buildRows materializes a keyed partition into insertable transactions.
// Reconcilable rows whose key is in the matched set are marked reconciled
// before the insert, so the persister's carry-forward update only ever
// touches prior runs' rows.
func buildRows(kp *keyedPartition, matched map[string]bool, runID string) ([]models.Transaction, error) {
	table := kp.part.Table
	tag := kp.part.Tag
	rows := make([]models.Transaction, 0, table.Len())

	for i := 0; i < table.Len(); i++ {
		key := kp.keys[i]
		status := tag.Status
		note := tag.Note
		if status == models.StatusUnreconciled &&
			tag.Category == models.CategoryReconcilable &&
			matchable(table.Reference[i]) && matched[key] {
			status = models.StatusReconciled
			note = classifier.SystemReconciledNote
		}

		tx := models.Transaction{
			Gateway:                table.Gateway,
			GatewayType:            table.Side,
			TransactionType:        tag.Type,
			ReconciliationCategory: tag.Category,
			Date:                   table.Date[i],
			TransactionID:          table.Reference[i],
			Narrative:              table.Details[i],
			Debit:                  nullAmount(table.Debit[i]),
			Credit:                 nullAmount(table.Credit[i]),
			ReconciliationStatus:   status,
			ReconciliationNote:     note,
			ReconciliationKey:      &key,
			RunID:                  runID,
			SourceFile:             table.SourceFile,
		}
		if err := tx.Validate(); err != nil {
			return nil, errors.ReconciliationError(errors.CodeRunFailed,
				fmt.Sprintf("prepared row failed validation: %v", err), err)
		}
		rows = append(rows, tx)
	}
	return rows, nil
}

// nullAmount stores zero amounts as NULL so absent columns stay absent.
func nullAmount(amount decimal.Decimal) decimal.NullDecimal {
	if amount.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(amount)
}
