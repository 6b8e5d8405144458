// Package models defines the persistent data model of the reconciliation
// engine: the unified Transaction row, the ReconciliationRun record and the
// enumerations that classify them.
//
// Every ingested or matched line becomes exactly one Transaction. Rows are
// immutable after insert except for the reconciliation status/note/run
// columns, charge reclassification, and the manual-reconciliation overlay
// owned by external collaborators.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GatewaySide distinguishes the external (bank statement) from the internal
// (payout ledger) record of a money movement.
type GatewaySide string

const (
	SideExternal GatewaySide = "external"
	SideInternal GatewaySide = "internal"
)

// TransactionType is the classified type of a single line.
type TransactionType string

const (
	TypeDeposit TransactionType = "deposit"
	TypeDebit   TransactionType = "debit"
	TypeCharge  TransactionType = "charge"
	TypePayout  TransactionType = "payout"
	TypeRefund  TransactionType = "refund"
)

// IsValid checks if the transaction type is one of the known values.
func (t TransactionType) IsValid() bool {
	switch t {
	case TypeDeposit, TypeDebit, TypeCharge, TypePayout, TypeRefund:
		return true
	}
	return false
}

// ReconciliationCategory derives from the transaction type and determines
// whether a row participates in matching.
type ReconciliationCategory string

const (
	CategoryReconcilable    ReconciliationCategory = "reconcilable"
	CategoryAutoReconciled  ReconciliationCategory = "auto_reconciled"
	CategoryNonReconcilable ReconciliationCategory = "non_reconcilable"
)

// CategoryFor returns the reconciliation category implied by a type.
func CategoryFor(t TransactionType) ReconciliationCategory {
	switch t {
	case TypeDebit, TypePayout:
		return CategoryReconcilable
	case TypeDeposit, TypeCharge:
		return CategoryAutoReconciled
	default:
		return CategoryNonReconcilable
	}
}

// ReconciliationStatus is the match state of a row.
type ReconciliationStatus string

const (
	StatusReconciled   ReconciliationStatus = "reconciled"
	StatusUnreconciled ReconciliationStatus = "unreconciled"
)

// RunStatus is the terminal state of a reconciliation run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Gateway builds the composite gateway string {base}_{side}.
func Gateway(base string, side GatewaySide) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(base), side)
}

// SideOf derives the gateway side from a composite gateway string.
func SideOf(gateway string) GatewaySide {
	if strings.HasSuffix(gateway, "_external") {
		return SideExternal
	}
	return SideInternal
}

// BaseOf strips the side suffix from a composite gateway string.
func BaseOf(gateway string) string {
	gateway = strings.TrimSuffix(gateway, "_external")
	return strings.TrimSuffix(gateway, "_internal")
}

// ManuallyReconciled is the legacy string flag stored by the
// manual-reconciliation collaborator. The engine only ever compares
// against this value.
const ManuallyReconciled = "true"

// AuthorizationPending marks rows awaiting maker-checker approval; such
// rows are excluded from carry-forward.
const AuthorizationPending = "pending"

// Transaction is the single unified row produced by a reconciliation run.
type Transaction struct {
	ID          uint        `json:"id" gorm:"primaryKey"`
	Gateway     string      `json:"gateway" gorm:"size:64;not null;index;uniqueIndex:idx_recon_key_gateway"`
	GatewayType GatewaySide `json:"gateway_type" gorm:"size:16;not null"`

	TransactionType        TransactionType        `json:"transaction_type" gorm:"size:16;not null"`
	ReconciliationCategory ReconciliationCategory `json:"reconciliation_category" gorm:"size:24;not null"`

	Date          *time.Time          `json:"date" gorm:"index"`
	TransactionID string              `json:"transaction_id" gorm:"size:255"`
	Narrative     string              `json:"narrative" gorm:"type:text"`
	Debit         decimal.NullDecimal `json:"debit" gorm:"type:decimal(20,2)"`
	Credit        decimal.NullDecimal `json:"credit" gorm:"type:decimal(20,2)"`

	ReconciliationStatus ReconciliationStatus `json:"reconciliation_status" gorm:"size:16;not null;index"`
	ReconciliationNote   string               `json:"reconciliation_note" gorm:"type:text"`
	ReconciliationKey    *string              `json:"reconciliation_key" gorm:"size:512;uniqueIndex:idx_recon_key_gateway"`

	RunID      string `json:"run_id" gorm:"size:64;not null;index"`
	SourceFile string `json:"source_file" gorm:"size:255"`

	// Manual-reconciliation overlay, written by external collaborators.
	// The engine reads these columns only to exclude rows from the
	// carry-forward pool.
	IsManuallyReconciled string     `json:"is_manually_reconciled" gorm:"size:8"`
	ManualReconNote      string     `json:"manual_recon_note" gorm:"type:text"`
	ManualReconBy        string     `json:"manual_recon_by" gorm:"size:64"`
	ManualReconAt        *time.Time `json:"manual_recon_at"`
	AuthorizationStatus  string     `json:"authorization_status" gorm:"size:16"`
	AuthorizationBy      string     `json:"authorization_by" gorm:"size:64"`
	AuthorizationAt      *time.Time `json:"authorization_at"`

	CreatedAt time.Time `json:"created_at"`
}

// IsExternal reports whether the row came from the bank statement side.
func (t *Transaction) IsExternal() bool {
	return t.GatewayType == SideExternal
}

// KeyOrEmpty returns the reconciliation key, or "" when absent.
func (t *Transaction) KeyOrEmpty() string {
	if t.ReconciliationKey == nil {
		return ""
	}
	return *t.ReconciliationKey
}

// Validate checks the invariants that must hold at insert time.
func (t *Transaction) Validate() error {
	if t.Gateway == "" {
		return fmt.Errorf("transaction gateway cannot be empty")
	}
	if !t.TransactionType.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.TransactionType)
	}
	if t.ReconciliationCategory != CategoryFor(t.TransactionType) {
		return fmt.Errorf("category %s does not match type %s",
			t.ReconciliationCategory, t.TransactionType)
	}
	if t.GatewayType != SideOf(t.Gateway) {
		return fmt.Errorf("gateway_type %s inconsistent with gateway %s",
			t.GatewayType, t.Gateway)
	}
	if t.ReconciliationCategory == CategoryAutoReconciled &&
		t.ReconciliationStatus != StatusReconciled {
		return fmt.Errorf("auto_reconciled row must be reconciled at insert")
	}
	if t.Debit.Valid && t.Debit.Decimal.IsNegative() {
		return fmt.Errorf("debit amount cannot be negative")
	}
	if t.Credit.Valid && t.Credit.Decimal.IsNegative() {
		return fmt.Errorf("credit amount cannot be negative")
	}
	if t.RunID == "" {
		return fmt.Errorf("transaction run_id cannot be empty")
	}
	return nil
}

// ReconciliationRun records one completed execution of the pipeline for a
// base gateway. It is inserted before any Transaction that references it.
type ReconciliationRun struct {
	ID      uint      `json:"id" gorm:"primaryKey"`
	RunID   string    `json:"run_id" gorm:"size:64;not null;uniqueIndex"`
	Gateway string    `json:"gateway" gorm:"size:64;not null;index"`
	Status  RunStatus `json:"status" gorm:"size:16;not null"`

	TotalExternal       int `json:"total_external"`
	TotalInternal       int `json:"total_internal"`
	Matched             int `json:"matched"`
	UnmatchedExternal   int `json:"unmatched_external"`
	UnmatchedInternal   int `json:"unmatched_internal"`
	CarryForwardMatched int `json:"carry_forward_matched"`

	CreatedByID string    `json:"created_by_id" gorm:"size:64"`
	CreatedAt   time.Time `json:"created_at"`
}
