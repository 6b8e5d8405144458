package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MissingReference is the sentinel stored for rows whose source file had no
// usable reference. Rows carrying it are excluded from matching; inserts
// use a synthetic reference instead so the unique constraint never fires.
const MissingReference = "NA"

// NormalizeReference canonicalizes a source reference for key generation:
// trimmed, uppercased, with a trailing ".0" artifact stripped (numeric
// references round-tripped through spreadsheets).
func NormalizeReference(ref string) string {
	normalized := strings.ToUpper(strings.TrimSpace(ref))
	normalized = strings.TrimSuffix(normalized, ".0")
	return normalized
}

// WholeAmount returns the absolute integer part of an amount. Matching is
// at whole-unit granularity so sub-unit rounding differences between the
// two sides still match.
func WholeAmount(amount decimal.Decimal) int64 {
	return amount.Abs().IntPart()
}

// BaseKey builds the matching primitive: reference|amount|base_gateway.
func BaseKey(reference string, amount decimal.Decimal, baseGateway string) string {
	return fmt.Sprintf("%s|%d|%s",
		NormalizeReference(reference), WholeAmount(amount), strings.ToLower(baseGateway))
}

// DatedKey appends the date suffix used for auto-reconciled rows, so that
// recurring same-amount charges on different days do not collide across
// statement periods.
func DatedKey(baseKey string, date *time.Time) string {
	if date == nil {
		return baseKey + "|nodate"
	}
	return baseKey + "|" + date.Format("20060102")
}

// DeduplicateKeys suffixes repeated keys within a single dataset with
// |1, |2, ... so each row can satisfy the unique constraint per insert.
// Only auto-reconciled rows rely on this; reconcilable rows are validated
// to have no collisions before matching.
func DeduplicateKeys(keys []string) []string {
	seen := make(map[string]int, len(keys))
	result := make([]string, len(keys))
	for i, key := range keys {
		if n := seen[key]; n > 0 {
			result[i] = fmt.Sprintf("%s|%d", key, n)
		} else {
			result[i] = key
		}
		seen[key]++
	}
	return result
}

// NewRunID mints a run identifier: RUN-YYYYMMDD-HHMMSS-{8-hex}.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("RUN-%s-%s", now.Format("20060102-150405"), shortHex())
}

// SyntheticReference produces a unique replacement for a missing source
// reference: {name}-random_ref-{8-hex}.
func SyntheticReference(name string) string {
	return fmt.Sprintf("%s-random_ref-%s", name, shortHex())
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
