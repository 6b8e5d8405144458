// Package store owns every database access of the reconciliation engine:
// the carry-forward pool query, the charge reclassification batch, the
// transactional run save with per-row savepoints, and the report queries.
//
// All writes for one run happen inside a single transaction. Either the
// run record, the new rows and the carry-forward updates all become
// visible together, or none do.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"payment-reconciliation-engine/internal/gatewayconfig"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// Open connects to the configured database. TranslateError is enabled so
// unique violations surface as gorm.ErrDuplicatedKey on every driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	config := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig,
			"database.driver", fmt.Errorf("unknown driver %q", driver))
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, errors.DatabaseError("open", err)
	}
	return db, nil
}

// AutoMigrate creates or updates the engine's tables.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.ReconciliationRun{},
		&models.Transaction{},
		&gatewayconfig.GatewayFileConfig{},
	)
	if err != nil {
		return errors.DatabaseError("migrate", err)
	}
	return nil
}

// Store wraps the gorm handle with the engine's query surface.
type Store struct {
	db     *gorm.DB
	logger logger.Logger
}

// New creates a Store.
func New(db *gorm.DB) *Store {
	return &Store{
		db:     db,
		logger: logger.GetGlobalLogger().WithComponent("store"),
	}
}

// DB exposes the underlying handle for migrations and test setup.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// LoadUnreconciled returns the carry-forward candidates for a base
// gateway: unreconciled keyed rows on either side, excluding rows held by
// the manual-reconciliation workflow or pending authorization.
func (s *Store) LoadUnreconciled(ctx context.Context, base string) ([]models.Transaction, error) {
	gateways := []string{
		models.Gateway(base, models.SideExternal),
		models.Gateway(base, models.SideInternal),
	}

	var rows []models.Transaction
	err := s.db.WithContext(ctx).
		Where("gateway IN ?", gateways).
		Where("reconciliation_key IS NOT NULL").
		Where("reconciliation_status = ?", models.StatusUnreconciled).
		Where("authorization_status IS NULL OR authorization_status <> ?", models.AuthorizationPending).
		Where("is_manually_reconciled IS NULL OR is_manually_reconciled <> ?", models.ManuallyReconciled).
		Find(&rows).Error
	if err != nil {
		return nil, errors.DatabaseError("carry-forward load", err)
	}
	return rows, nil
}

// ReclassifyCharges applies the carry-forward charge reclassification in
// one batch: the rows become charges, auto_reconciled and reconciled with
// the given note. run_id is deliberately left untouched; the new run row
// does not exist yet.
func (s *Store) ReclassifyCharges(ctx context.Context, ids []uint, note string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"transaction_type":        models.TypeCharge,
			"reconciliation_category": models.CategoryAutoReconciled,
			"reconciliation_status":   models.StatusReconciled,
			"reconciliation_note":     note,
		}).Error
	if err != nil {
		return errors.DatabaseError("charge reclassification", err)
	}
	return nil
}

// SaveStats reports what one save committed.
type SaveStats struct {
	ExternalRecords     int   `json:"external_records"`
	InternalRecords     int   `json:"internal_records"`
	Deposits            int   `json:"deposits"`
	Debits              int   `json:"debits"`
	Charges             int   `json:"charges"`
	Payouts             int   `json:"payouts"`
	NonReconcilable     int   `json:"non_reconcilable"`
	Total               int   `json:"total"`
	DuplicatesSkipped   int   `json:"duplicates_skipped"`
	CarryForwardUpdated int64 `json:"carry_forward_updated"`
}

// SaveRun persists one run atomically: run record first (so the run_id
// foreign target exists), then each prepared row inside its own savepoint
// so a duplicate (reconciliation_key, gateway) is skipped without
// poisoning the batch, then the carry-forward status updates.
func (s *Store) SaveRun(
	ctx context.Context,
	run *models.ReconciliationRun,
	rows []models.Transaction,
	carryForwardKeys []string,
) (*SaveStats, error) {
	stats := &SaveStats{}
	base := run.Gateway

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return errors.DatabaseError("run record insert", err)
		}

		for i := range rows {
			savepoint := fmt.Sprintf("row_%d", i)
			tx.SavePoint(savepoint)
			if err := tx.Create(&rows[i]).Error; err != nil {
				if stderrors.Is(err, gorm.ErrDuplicatedKey) {
					tx.RollbackTo(savepoint)
					stats.DuplicatesSkipped++
					continue
				}
				return errors.DatabaseError("transaction insert", err)
			}
			stats.count(&rows[i])
		}

		if len(carryForwardKeys) > 0 {
			note := fmt.Sprintf("System Reconciled (carry-forward, run: %s)", run.RunID)
			result := tx.Model(&models.Transaction{}).
				Where("reconciliation_key IN ?", carryForwardKeys).
				Where("gateway IN ?", []string{
					models.Gateway(base, models.SideExternal),
					models.Gateway(base, models.SideInternal),
				}).
				Where("reconciliation_status = ?", models.StatusUnreconciled).
				Updates(map[string]interface{}{
					"reconciliation_status": models.StatusReconciled,
					"reconciliation_note":   note,
					"run_id":                run.RunID,
				})
			if result.Error != nil {
				return errors.DatabaseError("carry-forward update", result.Error)
			}
			stats.CarryForwardUpdated = result.RowsAffected
		}

		return nil
	})
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryDatabase,
			errors.CodeDbOperation, "run save failed")
	}

	s.logger.WithFields(logger.Fields{
		"run_id":                run.RunID,
		"gateway":               base,
		"inserted":              stats.Total,
		"duplicates_skipped":    stats.DuplicatesSkipped,
		"carry_forward_updated": stats.CarryForwardUpdated,
	}).Info("Run persisted")

	return stats, nil
}

func (st *SaveStats) count(tx *models.Transaction) {
	st.Total++
	if tx.GatewayType == models.SideExternal {
		st.ExternalRecords++
	} else {
		st.InternalRecords++
	}
	switch tx.TransactionType {
	case models.TypeDeposit:
		st.Deposits++
	case models.TypeDebit:
		st.Debits++
	case models.TypeCharge:
		st.Charges++
	case models.TypePayout:
		st.Payouts++
	default:
		st.NonReconcilable++
	}
}

// ReportFilter selects transactions for reporting.
type ReportFilter struct {
	Base  string
	From  *time.Time
	To    *time.Time
	RunID string
}

// ListTransactions returns the transactions of a gateway family, ordered
// by date then id, honoring the optional date and run filters. The family
// covers {base}, {base}_external, {base}_internal and any gateway with a
// _{base} suffix.
func (s *Store) ListTransactions(ctx context.Context, filter ReportFilter) ([]models.Transaction, error) {
	base := strings.ToLower(filter.Base)
	query := s.db.WithContext(ctx).
		Where("gateway IN ? OR gateway LIKE ?",
			[]string{
				base,
				models.Gateway(base, models.SideExternal),
				models.Gateway(base, models.SideInternal),
			},
			"%_"+base)

	if filter.From != nil {
		query = query.Where("date >= ?", *filter.From)
	}
	if filter.To != nil {
		// Inclusive of the whole end day.
		query = query.Where("date < ?", filter.To.AddDate(0, 0, 1))
	}
	if filter.RunID != "" {
		query = query.Where("run_id = ?", filter.RunID)
	}

	var rows []models.Transaction
	if err := query.Order("date, id").Find(&rows).Error; err != nil {
		return nil, errors.DatabaseError("report query", err)
	}
	return rows, nil
}

// GetRun fetches a run record by run_id.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NotFound("reconciliation run", runID, err)
		}
		return nil, errors.DatabaseError("run lookup", err)
	}
	return &run, nil
}
