package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciliation-engine/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return New(db)
}

func testRun(base string) *models.ReconciliationRun {
	return &models.ReconciliationRun{
		RunID:   models.NewRunID(time.Now()),
		Gateway: base,
		Status:  models.RunCompleted,
	}
}

func keyedRow(gateway string, txType models.TransactionType, key, runID string) models.Transaction {
	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	status := models.StatusUnreconciled
	note := ""
	if models.CategoryFor(txType) == models.CategoryAutoReconciled {
		status = models.StatusReconciled
		note = "System Reconciled"
	}
	return models.Transaction{
		Gateway:                gateway,
		GatewayType:            models.SideOf(gateway),
		TransactionType:        txType,
		ReconciliationCategory: models.CategoryFor(txType),
		Date:                   &date,
		TransactionID:          "TXN-" + key,
		Narrative:              "test row",
		Debit:                  decimal.NewNullDecimal(decimal.NewFromInt(100)),
		ReconciliationStatus:   status,
		ReconciliationNote:     note,
		ReconciliationKey:      &key,
		RunID:                  runID,
		SourceFile:             "equity.csv",
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	assert.Error(t, err)
}

func TestSaveRunCountsByType(t *testing.T) {
	s := testStore(t)
	run := testRun("equity")

	rows := []models.Transaction{
		keyedRow("equity_external", models.TypeDebit, "TXN001|100|equity", run.RunID),
		keyedRow("equity_external", models.TypeDeposit, "DEP001|200|equity|20250102", run.RunID),
		keyedRow("equity_external", models.TypeCharge, "CHG001|5|equity|20250102", run.RunID),
		keyedRow("equity_internal", models.TypePayout, "TXN001|100|equity", run.RunID),
		keyedRow("equity_internal", models.TypeRefund, "REF001|50|equity|20250102", run.RunID),
	}

	stats, err := s.SaveRun(context.Background(), run, rows, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 3, stats.ExternalRecords)
	assert.Equal(t, 2, stats.InternalRecords)
	assert.Equal(t, 1, stats.Debits)
	assert.Equal(t, 1, stats.Deposits)
	assert.Equal(t, 1, stats.Charges)
	assert.Equal(t, 1, stats.Payouts)
	assert.Equal(t, 1, stats.NonReconcilable)
	assert.Equal(t, 0, stats.DuplicatesSkipped)

	saved, err := s.GetRun(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "equity", saved.Gateway)
}

func TestSaveRunRollsBackOnFatalError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// A trigger turns one specific row into an insert failure that is not
	// a key collision, after an earlier row already went in.
	require.NoError(t, s.DB().Exec(`
		CREATE TRIGGER reject_marked BEFORE INSERT ON transactions
		WHEN NEW.transaction_id = 'REJECT-ME'
		BEGIN SELECT RAISE(ABORT, 'rejected by trigger'); END`).Error)

	run := testRun("equity")
	good := keyedRow("equity_external", models.TypeDebit, "TXN001|100|equity", run.RunID)
	bad := keyedRow("equity_external", models.TypeDebit, "TXN002|200|equity", run.RunID)
	bad.TransactionID = "REJECT-ME"

	_, err := s.SaveRun(ctx, run, []models.Transaction{good, bad}, nil)
	require.Error(t, err)

	// Nothing from the failed run survives: not the run record and not
	// the row inserted before the failure.
	var rows, runs int64
	s.DB().Model(&models.Transaction{}).Count(&rows)
	s.DB().Model(&models.ReconciliationRun{}).Count(&runs)
	assert.Zero(t, rows)
	assert.Zero(t, runs)
}

func TestSaveRunSkipsDuplicates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := testRun("equity")
	rows := []models.Transaction{
		keyedRow("equity_external", models.TypeDebit, "TXN001|100|equity", first.RunID),
		keyedRow("equity_external", models.TypeDebit, "TXN002|200|equity", first.RunID),
	}
	stats, err := s.SaveRun(ctx, first, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)

	// Same file re-run: every row collides on (key, gateway) and is
	// skipped, without aborting the batch.
	second := testRun("equity")
	rerun := []models.Transaction{
		keyedRow("equity_external", models.TypeDebit, "TXN001|100|equity", second.RunID),
		keyedRow("equity_external", models.TypeDebit, "TXN002|200|equity", second.RunID),
		keyedRow("equity_external", models.TypeDebit, "TXN003|300|equity", second.RunID),
	}
	stats, err = s.SaveRun(ctx, second, rerun, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 2, stats.DuplicatesSkipped)

	var count int64
	s.DB().Model(&models.Transaction{}).Count(&count)
	assert.Equal(t, int64(3), count)
}

func TestSaveRunSameKeyDifferentGateways(t *testing.T) {
	s := testStore(t)
	run := testRun("equity")

	// The matched pair shares one key across the two gateway sides; the
	// unique index is on the (key, gateway) pair so both insert.
	rows := []models.Transaction{
		keyedRow("equity_external", models.TypeDebit, "TXN001|100|equity", run.RunID),
		keyedRow("equity_internal", models.TypePayout, "TXN001|100|equity", run.RunID),
	}
	stats, err := s.SaveRun(context.Background(), run, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 0, stats.DuplicatesSkipped)
}

func TestSaveRunCarryForwardUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// First run leaves an unmatched external debit behind.
	first := testRun("equity")
	_, err := s.SaveRun(ctx, first, []models.Transaction{
		keyedRow("equity_external", models.TypeDebit, "TXN001|100|equity", first.RunID),
	}, nil)
	require.NoError(t, err)

	// Second run brings the internal counterpart, already marked matched
	// by the reconciler, and carries the key. The old row flips to
	// reconciled and adopts the new run id.
	second := testRun("equity")
	counterpart := keyedRow("equity_internal", models.TypePayout, "TXN001|100|equity", second.RunID)
	counterpart.ReconciliationStatus = models.StatusReconciled
	counterpart.ReconciliationNote = "System Reconciled (run: " + second.RunID + ")"
	stats, err := s.SaveRun(ctx, second, []models.Transaction{
		counterpart,
	}, []string{"TXN001|100|equity"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CarryForwardUpdated)

	var carried models.Transaction
	require.NoError(t, s.DB().
		Where("gateway = ?", "equity_external").
		First(&carried).Error)
	assert.Equal(t, models.StatusReconciled, carried.ReconciliationStatus)
	assert.Equal(t, second.RunID, carried.RunID)
	assert.Contains(t, carried.ReconciliationNote, "carry-forward")
	assert.Contains(t, carried.ReconciliationNote, second.RunID)
}

func TestSaveRunCarryForwardIgnoresOtherGateways(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := testRun("mpesa")
	_, err := s.SaveRun(ctx, first, []models.Transaction{
		keyedRow("mpesa_external", models.TypeDebit, "TXN001|100|mpesa", first.RunID),
	}, nil)
	require.NoError(t, err)

	second := testRun("equity")
	stats, err := s.SaveRun(ctx, second, nil, []string{"TXN001|100|mpesa"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.CarryForwardUpdated)
}

func TestLoadUnreconciledFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun("equity")

	pool := keyedRow("equity_external", models.TypeDebit, "POOL|100|equity", run.RunID)

	reconciled := keyedRow("equity_external", models.TypeDebit, "DONE|100|equity", run.RunID)
	reconciled.ReconciliationStatus = models.StatusReconciled

	manual := keyedRow("equity_external", models.TypeDebit, "MANUAL|100|equity", run.RunID)
	manual.IsManuallyReconciled = models.ManuallyReconciled

	pending := keyedRow("equity_external", models.TypeDebit, "PENDING|100|equity", run.RunID)
	pending.AuthorizationStatus = models.AuthorizationPending

	keyless := keyedRow("equity_external", models.TypeDebit, "unused", run.RunID)
	keyless.ReconciliationKey = nil

	otherGateway := keyedRow("mpesa_external", models.TypeDebit, "OTHER|100|mpesa", run.RunID)

	_, err := s.SaveRun(ctx, run, []models.Transaction{
		pool, reconciled, manual, pending, keyless, otherGateway,
	}, nil)
	require.NoError(t, err)

	candidates, err := s.LoadUnreconciled(ctx, "equity")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "POOL|100|equity", candidates[0].KeyOrEmpty())
}

func TestReclassifyCharges(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun("equity")

	debit := keyedRow("equity_external", models.TypeDebit, "FEE|5|equity", run.RunID)
	_, err := s.SaveRun(ctx, run, []models.Transaction{debit}, nil)
	require.NoError(t, err)

	var saved models.Transaction
	require.NoError(t, s.DB().Where("gateway = ?", "equity_external").First(&saved).Error)

	note := "System Reconciled - Charge (carry-forward reclassified, run: RUN-X)"
	require.NoError(t, s.ReclassifyCharges(ctx, []uint{saved.ID}, note))

	var after models.Transaction
	require.NoError(t, s.DB().First(&after, saved.ID).Error)
	assert.Equal(t, models.TypeCharge, after.TransactionType)
	assert.Equal(t, models.CategoryAutoReconciled, after.ReconciliationCategory)
	assert.Equal(t, models.StatusReconciled, after.ReconciliationStatus)
	assert.Equal(t, note, after.ReconciliationNote)
	// The original run keeps ownership of the row.
	assert.Equal(t, run.RunID, after.RunID)
}

func TestReclassifyChargesEmpty(t *testing.T) {
	s := testStore(t)
	assert.NoError(t, s.ReclassifyCharges(context.Background(), nil, "note"))
}

func TestListTransactionsFamilyAndFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := testRun("equity")

	rows := []models.Transaction{
		keyedRow("equity_external", models.TypeDebit, "TXN001|100|equity", run.RunID),
		keyedRow("equity_internal", models.TypePayout, "TXN001|100|equity", run.RunID),
		keyedRow("workpay_equity", models.TypePayout, "LEGACY|100|equity", run.RunID),
		keyedRow("mpesa_external", models.TypeDebit, "TXN009|100|mpesa", run.RunID),
	}
	for i := range rows {
		d := time.Date(2025, 1, 2+i, 0, 0, 0, 0, time.UTC)
		rows[i].Date = &d
	}
	_, err := s.SaveRun(ctx, run, rows, nil)
	require.NoError(t, err)

	family, err := s.ListTransactions(ctx, ReportFilter{Base: "equity"})
	require.NoError(t, err)
	assert.Len(t, family, 3)
	for _, tx := range family {
		assert.NotEqual(t, "mpesa_external", tx.Gateway)
	}

	from := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	windowed, err := s.ListTransactions(ctx, ReportFilter{Base: "equity", From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "equity_internal", windowed[0].Gateway)

	byRun, err := s.ListTransactions(ctx, ReportFilter{Base: "equity", RunID: run.RunID})
	require.NoError(t, err)
	assert.Len(t, byRun, 3)

	byRun, err = s.ListTransactions(ctx, ReportFilter{Base: "equity", RunID: "RUN-NONE"})
	require.NoError(t, err)
	assert.Empty(t, byRun)
}

func TestGetRunNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetRun(context.Background(), "RUN-MISSING")
	assert.Error(t, err)
}

func TestSaveRunManyRows(t *testing.T) {
	s := testStore(t)
	run := testRun("equity")

	var rows []models.Transaction
	for i := 0; i < 50; i++ {
		rows = append(rows, keyedRow("equity_external", models.TypeDebit,
			fmt.Sprintf("TXN%03d|100|equity", i), run.RunID))
	}
	stats, err := s.SaveRun(context.Background(), run, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, stats.Total)
}
