package reconciler

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciliation-engine/internal/blobstore"
	"payment-reconciliation-engine/internal/gatewayconfig"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/store"
	"payment-reconciliation-engine/pkg/errors"
)

type env struct {
	rec     *Reconciler
	store   *store.Store
	blobs   blobstore.Store
	configs *gatewayconfig.Store
	root    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))

	root := t.TempDir()
	blobs, err := blobstore.NewFilesystemStore(root)
	require.NoError(t, err)

	st := store.New(db)
	configs := gatewayconfig.NewStore(db)
	return &env{
		rec:     New(st, blobs, configs, nil),
		store:   st,
		blobs:   blobs,
		configs: configs,
		root:    root,
	}
}

func (e *env) archived(t *testing.T, base string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(e.root, base, "archive", "*"))
	require.NoError(t, err)
	return matches
}

func (e *env) seedConfigs(t *testing.T, base string, keywords ...string) {
	t.Helper()
	external := gatewayconfig.DefaultExternalConfig(base)
	external.ChargeKeywords = keywords
	internal := gatewayconfig.DefaultInternalConfig(base)
	require.NoError(t, e.configs.Seed(context.Background(), external, internal))
}

func csvBytes(headers string, rows ...string) []byte {
	return []byte(headers + "\n" + strings.Join(rows, "\n") + "\n")
}

func (e *env) writeExternal(t *testing.T, base string, rows ...string) {
	t.Helper()
	_, err := e.blobs.Save(base, base+".csv",
		csvBytes("Date,Reference,Details,Debit,Credit", rows...))
	require.NoError(t, err)
}

func (e *env) writeInternal(t *testing.T, base string, rows ...string) {
	t.Helper()
	_, err := e.blobs.Save(base, "workpay_"+base+".csv",
		csvBytes("Date,Reference,Narrative,Amount,Status,Remark", rows...))
	require.NoError(t, err)
}

func (e *env) transactions(t *testing.T) []models.Transaction {
	t.Helper()
	var rows []models.Transaction
	require.NoError(t, e.store.DB().Order("id").Find(&rows).Error)
	return rows
}

func TestRunCleanMatch(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "equity")
	e.writeExternal(t, "equity", "2025-01-02,TXN001,Payout to X,1500.49,0")
	e.writeInternal(t, "equity", "2025-01-02,TXN001,X,1500,Completed,")

	result, err := e.rec.Run(context.Background(), "equity", "ops-1")
	require.NoError(t, err)

	// Sub-unit rounding: 1500.49 and 1500 share the whole-unit key.
	assert.Equal(t, 1, result.Summary.Matched)
	assert.Equal(t, 0, result.Summary.UnmatchedExternal)
	assert.Equal(t, 0, result.Summary.UnmatchedInternal)
	assert.Equal(t, 0, result.Summary.Charges)
	assert.Equal(t, 0, result.Summary.Deposits)
	assert.Equal(t, 2, result.Saved.Total)

	for _, tx := range e.transactions(t) {
		assert.Equal(t, models.StatusReconciled, tx.ReconciliationStatus)
		assert.Equal(t, result.RunID, tx.RunID)
	}

	run, err := e.store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Matched)
	assert.Equal(t, "ops-1", run.CreatedByID)
}

func TestRunChargeAutoClassification(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "kcb", "jenga charge")
	e.writeExternal(t, "kcb", "2025-01-02,FEE01,JENGA CHARGE 02/01,50,0")
	e.writeInternal(t, "kcb", "2025-01-02,WPY001,Salary,900,Completed,")

	result, err := e.rec.Run(context.Background(), "kcb", "")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Summary.Charges)
	assert.Equal(t, 0, result.Summary.Matched)
	assert.Equal(t, 0, result.Summary.TotalExternal)
	assert.Equal(t, 1, result.Summary.UnmatchedInternal)

	var charge models.Transaction
	require.NoError(t, e.store.DB().
		Where("transaction_type = ?", models.TypeCharge).
		First(&charge).Error)
	assert.Equal(t, models.StatusReconciled, charge.ReconciliationStatus)
	assert.Equal(t, models.CategoryAutoReconciled, charge.ReconciliationCategory)
	assert.Contains(t, charge.KeyOrEmpty(), "|20250102")
}

func TestRunDepositClassification(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "coop")
	e.writeExternal(t, "coop",
		"2025-01-02,DEP01,Customer deposit,0,2000",
		"2025-01-02,TXN001,Payout,700,0")
	e.writeInternal(t, "coop", "2025-01-02,TXN001,Payout,700,Completed,")

	result, err := e.rec.Run(context.Background(), "coop", "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.Deposits)
	assert.Equal(t, 1, result.Summary.Matched)
	assert.Equal(t, 3, result.Saved.Total)
}

func TestRunDuplicateReconcilableKeys(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "mpesa")
	e.writeExternal(t, "mpesa",
		"2025-01-02,R1,Payout A,200,0",
		"2025-01-03,R1,Payout B,200,0")
	e.writeInternal(t, "mpesa", "2025-01-02,WPY001,Salary,900,Completed,")

	_, err := e.rec.Run(context.Background(), "mpesa", "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDuplicateKeys))
	assert.Contains(t, err.Error(), "R1")

	// Nothing persisted: no rows, no run record.
	assert.Empty(t, e.transactions(t))
	var runs int64
	e.store.DB().Model(&models.ReconciliationRun{}).Count(&runs)
	assert.Zero(t, runs)
}

func TestRunCarryForwardMatch(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "dtb")
	ctx := context.Background()

	// Run 1: external TXN9 has no internal counterpart yet.
	e.writeExternal(t, "dtb", "2025-01-02,TXN9,Payout,700,0")
	e.writeInternal(t, "dtb", "2025-01-02,OTHER1,Salary,900,Completed,")
	first, err := e.rec.Run(ctx, "dtb", "")
	require.NoError(t, err)
	assert.Equal(t, 0, first.Summary.Matched)

	// Run 2: the counterpart arrives on the internal side.
	e.writeExternal(t, "dtb", "2025-01-05,OTHER2,Payout,120,0")
	e.writeInternal(t, "dtb", "2025-01-05,TXN9,Payout,700,Completed,")
	second, err := e.rec.Run(ctx, "dtb", "")
	require.NoError(t, err)

	assert.Equal(t, 1, second.Summary.Matched)
	assert.Equal(t, 1, second.Summary.CarryForwardMatched)
	assert.Equal(t, int64(1), second.Saved.CarryForwardUpdated)

	var carried models.Transaction
	require.NoError(t, e.store.DB().
		Where("gateway = ? AND transaction_id = ?", "dtb_external", "TXN9").
		First(&carried).Error)
	assert.Equal(t, models.StatusReconciled, carried.ReconciliationStatus)
	assert.Equal(t, second.RunID, carried.RunID)
	assert.Contains(t, carried.ReconciliationNote, "carry-forward")

	var counterpart models.Transaction
	require.NoError(t, e.store.DB().
		Where("gateway = ? AND transaction_id = ?", "dtb_internal", "TXN9").
		First(&counterpart).Error)
	assert.Equal(t, models.StatusReconciled, counterpart.ReconciliationStatus)
}

func TestRunIdempotentRerun(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "ncba")
	ctx := context.Background()

	e.writeExternal(t, "ncba", "2025-01-02,TXN001,Payout,1500,0")
	e.writeInternal(t, "ncba", "2025-01-02,TXN001,Payout,1500,Completed,")

	first, err := e.rec.Run(ctx, "ncba", "")
	require.NoError(t, err)
	require.Equal(t, 2, first.Saved.Total)

	second, err := e.rec.Run(ctx, "ncba", "")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Saved.Total)
	assert.Equal(t, first.Saved.Total, second.Saved.DuplicatesSkipped)

	// Both run records exist; no transaction references the second.
	_, err = e.store.GetRun(ctx, second.RunID)
	require.NoError(t, err)
	var owned int64
	e.store.DB().Model(&models.Transaction{}).
		Where("run_id = ?", second.RunID).Count(&owned)
	assert.Zero(t, owned)
}

func TestRunChargeReclassificationOnCarryForward(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Run 1 with no keywords: the fee line lands as an unreconciled debit.
	e.seedConfigs(t, "absa")
	e.writeExternal(t, "absa", "2025-01-02,FEE01,JENGA CHARGE 02/01,50,0")
	e.writeInternal(t, "absa", "2025-01-02,WPY001,Salary,900,Completed,")
	first, err := e.rec.Run(ctx, "absa", "")
	require.NoError(t, err)

	var before models.Transaction
	require.NoError(t, e.store.DB().
		Where("transaction_id = ?", "FEE01").First(&before).Error)
	require.Equal(t, models.TypeDebit, before.TransactionType)

	// The keyword is configured before run 2.
	e.seedConfigs(t, "absa", "jenga charge")
	second, err := e.rec.Run(ctx, "absa", "")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Summary.CarryForwardReclassifiedCharges)

	var after models.Transaction
	require.NoError(t, e.store.DB().First(&after, before.ID).Error)
	assert.Equal(t, models.TypeCharge, after.TransactionType)
	assert.Equal(t, models.CategoryAutoReconciled, after.ReconciliationCategory)
	assert.Equal(t, models.StatusReconciled, after.ReconciliationStatus)
	assert.Contains(t, after.ReconciliationNote, "reclassified")
	// Ownership stays with the run that inserted the row.
	assert.Equal(t, first.RunID, after.RunID)
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Seed history that a real run would reclassify.
	e.seedConfigs(t, "stanbic")
	e.writeExternal(t, "stanbic", "2025-01-02,FEE01,JENGA CHARGE,50,0")
	e.writeInternal(t, "stanbic", "2025-01-02,WPY001,Salary,900,Completed,")
	_, err := e.rec.Run(ctx, "stanbic", "")
	require.NoError(t, err)

	e.seedConfigs(t, "stanbic", "jenga charge")
	before := e.transactions(t)

	result, err := e.rec.Preview(ctx, "stanbic")
	require.NoError(t, err)
	assert.True(t, result.Preview)
	assert.Nil(t, result.Saved)
	assert.Equal(t, 1, result.Summary.CarryForwardReclassifiedCharges)

	// Identical DB state: same rows, same mutable columns, no new run.
	after := e.transactions(t)
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].TransactionType, after[i].TransactionType)
		assert.Equal(t, before[i].ReconciliationStatus, after[i].ReconciliationStatus)
		assert.Equal(t, before[i].ReconciliationNote, after[i].ReconciliationNote)
		assert.Equal(t, before[i].RunID, after[i].RunID)
	}
	var runs int64
	e.store.DB().Model(&models.ReconciliationRun{}).Count(&runs)
	assert.Equal(t, int64(1), runs)
}

func TestPreviewDoesNotArchive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedConfigs(t, "chase")
	e.writeExternal(t, "chase", "2025-01-02,TXN001,Payout,700,0")
	e.writeInternal(t, "chase", "2025-01-02,TXN001,Payout,700,Completed,")

	_, err := e.rec.Preview(ctx, "chase")
	require.NoError(t, err)
	assert.Empty(t, e.archived(t, "chase"))

	// A real run archives both uploads.
	_, err = e.rec.Run(ctx, "chase", "")
	require.NoError(t, err)
	assert.Len(t, e.archived(t, "chase"), 2)
}

// listStore overrides the directory listing; other Store implementations
// may surface names without an extension.
type listStore struct {
	blobstore.Store
	names []string
}

func (s listStore) List(string) ([]string, error) {
	return s.names, nil
}

func TestRunToleratesExtensionlessBlobNames(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "vault")
	rec := New(e.store, listStore{
		Store: e.blobs,
		names: []string{"vault", "workpay_vault.csv"},
	}, e.configs, nil)

	_, err := rec.Run(context.Background(), "vault", "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeMissingFile))
	assert.Contains(t, err.Error(), "vault.{xlsx|xls|csv}")
}

func TestRunDateSuffixDisambiguation(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "family", "monthly fee")
	e.writeExternal(t, "family",
		"2025-01-02,FEE,MONTHLY FEE,100,0",
		"2025-02-02,FEE,MONTHLY FEE,100,0")
	e.writeInternal(t, "family", "2025-01-02,WPY001,Salary,900,Completed,")

	result, err := e.rec.Run(context.Background(), "family", "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Summary.Charges)
	assert.Equal(t, 2, result.Saved.Charges)

	var keys []string
	e.store.DB().Model(&models.Transaction{}).
		Where("transaction_type = ?", models.TypeCharge).
		Pluck("reconciliation_key", &keys)
	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
}

func TestRunMissingPairedFile(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "sidian")
	e.writeExternal(t, "sidian", "2025-01-02,TXN001,Payout,100,0")

	_, err := e.rec.Run(context.Background(), "sidian", "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeMissingFile))
	assert.Contains(t, err.Error(), "workpay_sidian")
}

func TestRunRefusesConcurrentSameGateway(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "gulf")

	release, err := acquireGateway("gulf")
	require.NoError(t, err)
	defer release()

	_, err = e.rec.Run(context.Background(), "gulf", "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeRunInProgress))
}

func TestRunTopupsAndRefundsStored(t *testing.T) {
	e := newEnv(t)
	e.seedConfigs(t, "prime")
	e.writeExternal(t, "prime", "2025-01-02,TXN001,Payout,700,0")
	e.writeInternal(t, "prime",
		"2025-01-02,TXN001,Payout,700,Completed,",
		"2025-01-02,REF01,Salary,200,Refunded,Refund issued",
		"2025-01-02,TOP01,Funding,5000,Completed,Wallet Topup")

	result, err := e.rec.Run(context.Background(), "prime", "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.Matched)
	assert.Equal(t, 4, result.Saved.Total)
	assert.Equal(t, 2, result.Saved.NonReconcilable)

	var nonRecon int64
	e.store.DB().Model(&models.Transaction{}).
		Where("reconciliation_category = ?", models.CategoryNonReconcilable).
		Count(&nonRecon)
	assert.Equal(t, int64(2), nonRecon)
}
