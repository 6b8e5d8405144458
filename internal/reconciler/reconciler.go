// Package reconciler orchestrates one reconciliation run for one base
// gateway: file validation, carry-forward loading, concurrent
// normalization of the two sides, classification, key matching and the
// handoff to the persister.
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"payment-reconciliation-engine/internal/blobstore"
	"payment-reconciliation-engine/internal/classifier"
	"payment-reconciliation-engine/internal/fileio"
	"payment-reconciliation-engine/internal/gatewayconfig"
	"payment-reconciliation-engine/internal/gatewayfile"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/store"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// Summary is the matching outcome of one run.
type Summary struct {
	TotalExternal                   int `json:"total_external"`
	TotalInternal                   int `json:"total_internal"`
	Matched                         int `json:"matched"`
	UnmatchedExternal               int `json:"unmatched_external"`
	UnmatchedInternal               int `json:"unmatched_internal"`
	Deposits                        int `json:"deposits"`
	Charges                         int `json:"charges"`
	CarryForwardMatched             int `json:"carry_forward_matched"`
	CarryForwardReclassifiedCharges int `json:"carry_forward_reclassified_charges"`
}

// Result is returned synchronously to the caller of a run or preview.
type Result struct {
	RunID   string           `json:"run_id"`
	Gateway string           `json:"gateway"`
	Status  models.RunStatus `json:"status"`
	Preview bool             `json:"preview,omitempty"`
	Summary Summary          `json:"summary"`
	Saved   *store.SaveStats `json:"saved,omitempty"`
}

// Reconciler executes reconciliation runs. All collaborators are explicit
// constructor dependencies; one instance may serve many runs.
type Reconciler struct {
	store   *store.Store
	blobs   blobstore.Store
	configs *gatewayconfig.Store
	logger  logger.Logger
}

// New creates a Reconciler.
func New(st *store.Store, blobs blobstore.Store, configs *gatewayconfig.Store, log logger.Logger) *Reconciler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Reconciler{
		store:   st,
		blobs:   blobs,
		configs: configs,
		logger:  log.WithComponent("reconciler"),
	}
}

// Run executes the full pipeline for a base gateway and persists the
// outcome.
func (r *Reconciler) Run(ctx context.Context, gateway, userID string) (*Result, error) {
	return r.execute(ctx, gateway, userID, false)
}

// Preview executes the pipeline without writing anything: no inserts, no
// carry-forward updates and no charge reclassification. The summary
// reports what a real run would do.
func (r *Reconciler) Preview(ctx context.Context, gateway string) (*Result, error) {
	return r.execute(ctx, gateway, "", true)
}

func (r *Reconciler) execute(ctx context.Context, gateway, userID string, preview bool) (*Result, error) {
	base := strings.ToLower(strings.TrimSpace(gateway))
	if base == "" {
		return nil, errors.ReconciliationError(errors.CodeRunFailed, "gateway is required", nil)
	}

	release, err := acquireGateway(base)
	if err != nil {
		return nil, err
	}
	defer release()

	runID := models.NewRunID(time.Now())
	log := r.logger.WithFields(logger.Fields{
		"gateway": base,
		"run_id":  runID,
		"preview": preview,
	})
	log.Info("Reconciliation run starting")

	externalCfg, internalCfg, err := r.configs.Pair(ctx, base)
	if err != nil {
		return nil, err
	}
	keywords := externalCfg.MergedChargeKeywords(internalCfg)

	externalFile, internalFile, err := r.validateFiles(base)
	if err != nil {
		return nil, err
	}

	poolRows, err := r.store.LoadUnreconciled(ctx, base)
	if err != nil {
		return nil, err
	}
	pool := splitCarryForward(poolRows, keywords)
	log.WithFields(logger.Fields{
		"carry_forward_external": len(pool.externalKeys),
		"carry_forward_internal": len(pool.internalKeys),
		"pending_reclassified":   len(pool.reclassifyIDs),
	}).Debug("Carry-forward pool loaded")

	if !preview && len(pool.reclassifyIDs) > 0 {
		note := fmt.Sprintf("System Reconciled - Charge (carry-forward reclassified, run: %s)", runID)
		if err := r.store.ReclassifyCharges(ctx, pool.reclassifyIDs, note); err != nil {
			return nil, err
		}
	}

	external, internal, err := r.loadTables(base, externalFile, internalFile, externalCfg, internalCfg, preview)
	if err != nil {
		return nil, err
	}

	externalParts := classifier.ClassifyExternal(external, keywords)
	internalParts := classifier.ClassifyInternal(internal, internalCfg.TopupMarker)

	deposits := assignKeys(externalParts.Deposits, base, amountCredit, true)
	charges := assignKeys(externalParts.Charges, base, amountDebit, true)
	debits := assignKeys(externalParts.Debits, base, amountDebit, false)
	payouts := assignKeys(internalParts.Payouts, base, amountDebit, false)
	refunds := assignKeys(internalParts.Refunds, base, amountDebit, true)
	topups := assignKeys(internalParts.Topups, base, amountDebit, true)

	if err := validateNoDuplicateKeys(debits, payouts); err != nil {
		return nil, err
	}

	newExternal := keySet(debits)
	newInternal := keySet(payouts)
	allExternal := union(newExternal, pool.externalKeys)
	allInternal := union(newInternal, pool.internalKeys)
	matched := intersect(allExternal, allInternal)
	carryForwardMatched := intersect(matched, union(pool.externalKeys, pool.internalKeys))

	summary := Summary{
		TotalExternal:                   debits.part.Len(),
		TotalInternal:                   payouts.part.Len(),
		Matched:                         len(matched),
		UnmatchedExternal:               unmatchedCount(debits, matched),
		UnmatchedInternal:               unmatchedCount(payouts, matched),
		Deposits:                        deposits.part.Len(),
		Charges:                         charges.part.Len(),
		CarryForwardMatched:             len(carryForwardMatched),
		CarryForwardReclassifiedCharges: len(pool.reclassifyIDs),
	}

	result := &Result{
		RunID:   runID,
		Gateway: base,
		Status:  models.RunCompleted,
		Preview: preview,
		Summary: summary,
	}

	if preview {
		log.WithField("matched", summary.Matched).Info("Preview complete, nothing written")
		return result, nil
	}

	var rows []models.Transaction
	for _, kp := range []*keyedPartition{deposits, charges, debits, payouts, refunds, topups} {
		built, err := buildRows(kp, matched, runID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, built...)
	}

	run := &models.ReconciliationRun{
		RunID:               runID,
		Gateway:             base,
		Status:              models.RunCompleted,
		TotalExternal:       summary.TotalExternal,
		TotalInternal:       summary.TotalInternal,
		Matched:             summary.Matched,
		UnmatchedExternal:   summary.UnmatchedExternal,
		UnmatchedInternal:   summary.UnmatchedInternal,
		CarryForwardMatched: summary.CarryForwardMatched,
		CreatedByID:         userID,
	}

	saved, err := r.store.SaveRun(ctx, run, rows, setToSlice(carryForwardMatched))
	if err != nil {
		return nil, err
	}
	result.Saved = saved

	log.WithFields(logger.Fields{
		"matched":  summary.Matched,
		"inserted": saved.Total,
		"skipped":  saved.DuplicatesSkipped,
	}).Info("Reconciliation run complete")
	return result, nil
}

// validateFiles checks that the gateway directory holds exactly the two
// expected uploads, by base-name stem: {base}.* and workpay_{base}.*.
func (r *Reconciler) validateFiles(base string) (externalFile, internalFile string, err error) {
	files, err := r.blobs.List(base)
	if err != nil {
		return "", "", err
	}

	find := func(stem string) string {
		for _, name := range files {
			dot := strings.LastIndex(name, ".")
			if dot < 0 {
				continue
			}
			if strings.EqualFold(name[:dot], stem) {
				return name
			}
		}
		return ""
	}

	externalFile = find(base)
	internalFile = find("workpay_" + base)

	var missing []string
	if externalFile == "" {
		missing = append(missing, base+".{xlsx|xls|csv}")
	}
	if internalFile == "" {
		missing = append(missing, "workpay_"+base+".{xlsx|xls|csv}")
	}
	if len(missing) > 0 {
		return "", "", errors.ReconciliationError(errors.CodeMissingFile,
			fmt.Sprintf("gateway %s is missing required files: %s", base, strings.Join(missing, ", ")), nil).
			WithSuggestion("upload both the external statement and the internal ledger before reconciling").
			WithContext("gateway", base).
			WithContext("missing", missing)
	}
	return externalFile, internalFile, nil
}

// loadTables reads and normalizes the two gateway sides concurrently. An
// audit copy of each ingested file is archived best-effort before
// processing; previews skip the copy.
func (r *Reconciler) loadTables(
	base, externalFile, internalFile string,
	externalCfg, internalCfg *gatewayconfig.GatewayFileConfig,
	preview bool,
) (external, internal *gatewayfile.Table, err error) {
	load := func(filename string, cfg *gatewayconfig.GatewayFileConfig, side models.GatewaySide) (*gatewayfile.Table, error) {
		data, err := r.blobs.Read(base, filename)
		if err != nil {
			return nil, err
		}
		if !preview {
			r.blobs.Archive(base, filename, data)
		}

		ext := ""
		if dot := strings.LastIndex(filename, "."); dot >= 0 {
			ext = strings.ToLower(filename[dot+1:])
		}
		raw, err := fileio.ReadTable(data, filename, cfg.HeaderRowsFor(ext))
		if err != nil {
			return nil, err
		}
		return gatewayfile.Normalize(raw, cfg, models.Gateway(base, side), filename)
	}

	var wg sync.WaitGroup
	var externalErr, internalErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		external, externalErr = load(externalFile, externalCfg, models.SideExternal)
	}()
	go func() {
		defer wg.Done()
		internal, internalErr = load(internalFile, internalCfg, models.SideInternal)
	}()
	wg.Wait()

	if externalErr != nil {
		return nil, nil, externalErr
	}
	if internalErr != nil {
		return nil, nil, internalErr
	}
	return external, internal, nil
}

func unmatchedCount(kp *keyedPartition, matched map[string]bool) int {
	count := 0
	for i, key := range kp.keys {
		if !matchable(kp.part.Table.Reference[i]) || !matched[key] {
			count++
		}
	}
	return count
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
