// =============================================================================
// Fee Ledger - Import Pipeline
// =============================================================================
//
// This module runs one import end to end. It owns no logic of its own beyond
// sequencing the stages and aggregating what each stage returns.
//
// IMPORT PIPELINE:
//   1. Read the spreadsheet and locate the header row
//   2. Validate every record (optionally across several workers)
//   3. Check the store is reachable and take the import lock
//   4. Run the batch gate on duplicate receipt numbers
//   5. Merge admitted students and payments into the store
//   6. Write the error report when anything was rejected or flagged
//
// RUN-FATAL CONDITIONS (nothing is written to the store):
//   - header row not found
//   - store unreachable, or the import lock not obtained in time
//   - duplicate receipts under the strict policy
//
// Every other problem is a row error: it is collected, reported and the run
// carries on.
//
// =============================================================================

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/gate"
	"github.com/ginjaninja78/feeledger/internal/logger"
	"github.com/ginjaninja78/feeledger/internal/report"
	"github.com/ginjaninja78/feeledger/internal/sheetreader"
	"github.com/ginjaninja78/feeledger/internal/store"
	"github.com/ginjaninja78/feeledger/internal/types"
	"github.com/ginjaninja78/feeledger/internal/validation"
	"github.com/ginjaninja78/feeledger/pkg/utils"
)

// Run statuses, as written to the summary log.
const (
	StatusSuccess = "SUCCESS"
	StatusPartial = "COMPLETED WITH ERRORS"
	StatusFailed  = "FAILED"
	StatusDryRun  = "DRY RUN"
)

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result is the outcome of one import run.
type Result struct {
	// RunID identifies the run in logs, summaries and report names.
	RunID string `json:"run_id"`

	// Source is the name of the imported file.
	Source string `json:"source"`

	// Sheet and HeaderRow locate the header that was used (1-based row).
	Sheet     string `json:"sheet,omitempty"`
	HeaderRow int    `json:"header_row,omitempty"`

	// Rows is the number of non-blank records after the header.
	Rows int `json:"rows"`

	store.MergeCounts

	// Errors holds the first MaxErrors row errors sorted by row; the error
	// report lists all TotalErrors of them.
	Errors      []report.RowError `json:"errors"`
	TotalErrors int               `json:"total_errors"`

	// RejectedRows counts distinct rows kept out of the store.
	RejectedRows int `json:"rejected_rows"`

	// Duplicates lists every receipt repeated in the file.
	Duplicates report.DuplicateReport `json:"duplicates,omitempty"`

	// ReportPath is the error report written for this run, if any.
	ReportPath string `json:"report_path,omitempty"`

	DryRun    bool      `json:"dry_run,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Status classifies the run for the summary log.
func (r *Result) Status(runErr error) string {
	switch {
	case runErr != nil:
		return StatusFailed
	case r.DryRun:
		return StatusDryRun
	case r.TotalErrors > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// Summary converts the result to the summary log record.
func (r *Result) Summary(runErr error) utils.RunSummary {
	s := utils.RunSummary{
		RunID:             r.RunID,
		Source:            r.Source,
		Status:            r.Status(runErr),
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		Rows:              r.Rows,
		StudentsInserted:  r.StudentsInserted,
		StudentsUpdated:   r.StudentsUpdated,
		StudentsUnchanged: r.StudentsUnchanged,
		PaymentsInserted:  r.PaymentsInserted,
		PaymentsUpdated:   r.PaymentsUpdated,
		PaymentsUnchanged: r.PaymentsUnchanged,
		Errors:            r.TotalErrors,
		RejectedRows:      r.RejectedRows,
		Duplicates:        len(r.Duplicates),
		ErrorReport:       r.ReportPath,
	}
	if runErr != nil {
		s.FailureCause = runErr.Error()
	}
	return s
}

// =============================================================================
// IMPORTER STRUCTURE
// =============================================================================

// Store is what the importer needs from the persistent store.
type Store interface {
	Ping(ctx context.Context) error
	AcquireImportLock(ctx context.Context, timeout time.Duration) (func(), error)
	Merge(ctx context.Context, students []types.StudentCandidate, payments []types.PaymentCandidate, policy types.DuplicatePolicy) (store.MergeCounts, []report.RowError, error)
}

// Importer runs imports against one store with one configuration.
type Importer struct {
	store       Store
	cfg         config.ImportConfig
	reports     *report.Writer
	log         *zap.Logger
	lockTimeout time.Duration
	dryRun      bool
}

// Option configures an Importer.
type Option func(*Importer)

// WithReportWriter sets where error reports are written. Without it no
// report file is produced.
func WithReportWriter(w *report.Writer) Option {
	return func(i *Importer) { i.reports = w }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(i *Importer) { i.log = log }
}

// WithLockTimeout bounds the wait for the import lock. Zero waits until the
// run context ends.
func WithLockTimeout(d time.Duration) Option {
	return func(i *Importer) { i.lockTimeout = d }
}

// WithDryRun reads, validates and gates the file but writes nothing.
func WithDryRun(dryRun bool) Option {
	return func(i *Importer) { i.dryRun = dryRun }
}

// NewImporter creates an Importer.
func NewImporter(st Store, cfg config.ImportConfig, opts ...Option) *Importer {
	i := &Importer{store: st, cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(i)
	}
	i.log = i.log.Named("import")
	return i
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run imports one spreadsheet.
//
// PARAMETERS:
//   - ctx: Cancels the run; also bounds the lock wait and store calls.
//   - name: The file name, used for format detection and the report name.
//   - src: The spreadsheet bytes.
//
// RETURNS:
//   - The result. It is never nil, also on failure, so the caller can write
//     a summary and point the operator at the report.
//   - A run-fatal error: sheetreader.ErrHeaderNotFound,
//     store.ErrStoreUnavailable, store.ErrImportInProgress,
//     gate.ErrDuplicateReceipts, or a store error that rolled the merge back.
func (i *Importer) Run(ctx context.Context, name string, src io.Reader) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		Source:    name,
		DryRun:    i.dryRun,
		StartTime: time.Now(),
	}
	ctx = logger.WithRunID(ctx, res.RunID)
	log := logger.FromContext(ctx, i.log).With(zap.String("file", name))
	errs := report.NewErrorCollection(i.cfg.MaxErrors)

	finish := func(err error) (*Result, error) {
		res.Errors = errs.Errors()
		res.TotalErrors = errs.TotalCount()
		res.RejectedRows = errs.RejectedRows()
		if errs.HasErrors() || len(res.Duplicates) > 0 {
			i.writeReport(log, res, errs.All())
		}
		if errs.IsTruncated() {
			log.Warn("error list truncated in the result; the report has all of them",
				zap.Int("shown", len(res.Errors)), zap.Int("total", res.TotalErrors))
		}
		res.EndTime = time.Now()

		if err != nil {
			log.Error("import failed", zap.Error(err), zap.String("report", res.ReportPath))
			return res, err
		}
		log.Info("import finished",
			zap.String("status", res.Status(nil)),
			zap.Int("rows", res.Rows),
			zap.Int("errors", res.TotalErrors),
			zap.Int("rejected_rows", res.RejectedRows),
			zap.Any("errors_by_code", errs.ErrorSummary()),
			zap.Duration("took", res.EndTime.Sub(res.StartTime)),
		)
		return res, nil
	}

	log.Info("import started", zap.Bool("dry_run", i.dryRun))

	// =========================================================================
	// STEP 1: READ SPREADSHEET
	// =========================================================================

	header, records, err := sheetreader.ReadAll(ctx, name, src, i.cfg)
	if err != nil {
		if ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrUnreadable, err)
		}
		return finish(fmt.Errorf("failed to read %s: %w", name, err))
	}
	res.Sheet = header.Sheet
	res.HeaderRow = header.Row
	res.Rows = len(records)
	log.Debug("header located",
		zap.String("sheet", header.Sheet),
		zap.Int("row", header.Row),
		zap.Strings("unmapped", header.Unmapped),
		zap.Int("records", len(records)),
	)

	// =========================================================================
	// STEP 2: VALIDATE ROWS
	// =========================================================================

	batch, err := validation.NewValidator(i.cfg).ValidateAll(ctx, records)
	if err != nil {
		return finish(fmt.Errorf("failed to validate %s: %w", name, err))
	}
	errs.AddAll(batch.Errors)
	log.Debug("rows validated",
		zap.Int("students", len(batch.Students)),
		zap.Int("payments", len(batch.Payments)),
		zap.Int("rejected", batch.RejectedRows),
	)

	// =========================================================================
	// STEP 3: STORE AND LOCK
	// =========================================================================
	// The lock covers the gate and the merge so two runs can never interleave
	// their writes. A dry run leaves the store alone.

	if !i.dryRun {
		if err := i.store.Ping(ctx); err != nil {
			return finish(err)
		}
		release, err := i.store.AcquireImportLock(ctx, i.lockTimeout)
		if err != nil {
			return finish(err)
		}
		defer release()
	}

	// =========================================================================
	// STEP 4: BATCH GATE
	// =========================================================================

	decision, err := gate.Check(batch, i.cfg.DuplicatePolicy)
	res.Duplicates = decision.Duplicates
	if err != nil {
		return finish(err)
	}
	errs.AddAll(decision.Quarantined)
	if len(decision.Duplicates) > 0 {
		log.Warn("duplicate receipts quarantined",
			zap.Int("receipts", len(decision.Duplicates)),
			zap.Int("rows", decision.Duplicates.RowCount()),
		)
	}

	// =========================================================================
	// STEP 5: MERGE
	// =========================================================================

	if !i.dryRun {
		counts, mergeErrs, err := i.store.Merge(ctx, decision.Students, decision.Payments, i.cfg.DuplicatePolicy)
		if err != nil {
			return finish(err)
		}
		res.MergeCounts = counts
		errs.AddAll(mergeErrs)
	}

	// =========================================================================
	// STEP 6: REPORT
	// =========================================================================

	return finish(nil)
}

// writeReport writes the error report with every collected error, also
// those past MaxErrors. A failure here is logged and does not fail the run:
// the store has already been updated.
func (i *Importer) writeReport(log *zap.Logger, res *Result, all []report.RowError) {
	if i.reports == nil {
		return
	}
	path, err := i.reports.Write(res.Source, res.RunID, all, res.Duplicates)
	if err != nil {
		log.Warn("failed to write error report", zap.Error(err))
		return
	}
	res.ReportPath = path
}

// ErrUnreadable wraps every failure to read the spreadsheet itself.
var ErrUnreadable = errors.New("spreadsheet unreadable")

// IsFileRejected reports whether err is a failure the file will repeat on
// every run until it is edited: it could not be read, or strict mode found
// duplicate receipts in it. Store and lock failures are not.
func IsFileRejected(err error) bool {
	return errors.Is(err, ErrUnreadable) || errors.Is(err, gate.ErrDuplicateReceipts)
}

// IsFatal reports whether err aborted a run before anything was written.
func IsFatal(err error) bool {
	return errors.Is(err, sheetreader.ErrHeaderNotFound) ||
		errors.Is(err, store.ErrStoreUnavailable) ||
		errors.Is(err, store.ErrImportInProgress) ||
		errors.Is(err, gate.ErrDuplicateReceipts)
}
