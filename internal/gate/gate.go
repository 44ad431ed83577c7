// Package gate holds the whole-batch checks that run after validation and
// before anything is written: today, receipt numbers repeated within one
// spreadsheet.
package gate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ginjaninja78/feeledger/internal/report"
	"github.com/ginjaninja78/feeledger/internal/types"
	"github.com/ginjaninja78/feeledger/internal/validation"
)

// ErrDuplicateReceipts is returned in strict mode when a receipt number
// appears on more than one row. The batch must not be merged.
var ErrDuplicateReceipts = errors.New("duplicate receipt numbers in batch")

// Decision is the gate's verdict on a validated batch.
type Decision struct {
	// Admitted is false only in strict mode with duplicates.
	Admitted bool

	// Students and Payments are what the merger may write. Empty when the
	// batch is not admitted.
	Students []types.StudentCandidate
	Payments []types.PaymentCandidate

	// Duplicates lists every repeated receipt with all its rows.
	Duplicates report.DuplicateReport

	// Quarantined holds one error per row excluded in permissive mode.
	Quarantined []report.RowError
}

// Check groups the batch's payments by receipt and applies policy.
//
// RETURNS:
//   - The decision.
//   - ErrDuplicateReceipts (wrapped) in strict mode when duplicates exist.
func Check(batch *validation.Result, policy types.DuplicatePolicy) (*Decision, error) {
	dups := FindDuplicates(batch.Payments)

	if len(dups) == 0 {
		return &Decision{
			Admitted: true,
			Students: batch.Students,
			Payments: batch.Payments,
		}, nil
	}

	if policy != types.DuplicatePermissive {
		return &Decision{Duplicates: dups},
			fmt.Errorf("%w: %d receipt(s) on %d row(s)", ErrDuplicateReceipts, len(dups), dups.RowCount())
	}

	quarantined := make(map[int]bool)
	var errs []report.RowError
	for _, g := range dups {
		rows := g.RowNumbers()
		for _, r := range g.Rows {
			quarantined[r.Row] = true
			errs = append(errs, report.DuplicateError(r.Row, g.Receipt, rows))
		}
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Row < errs[j].Row })

	kept := withoutRows(batch, quarantined)
	return &Decision{
		Admitted:    true,
		Students:    kept.Students,
		Payments:    kept.Payments,
		Duplicates:  dups,
		Quarantined: errs,
	}, nil
}

// FindDuplicates returns the receipts used by more than one payment, in
// order of first appearance.
func FindDuplicates(payments []types.PaymentCandidate) report.DuplicateReport {
	groups := make(map[string][]report.DuplicateRow)
	var order []string

	for _, p := range payments {
		if _, ok := groups[p.Receipt]; !ok {
			order = append(order, p.Receipt)
		}
		groups[p.Receipt] = append(groups[p.Receipt], report.DuplicateRow{
			Row:       p.Row,
			Matricule: p.Matricule,
			Name:      p.Name,
		})
	}

	var dups report.DuplicateReport
	for _, receipt := range order {
		if rows := groups[receipt]; len(rows) > 1 {
			dups = append(dups, report.DuplicateGroup{Receipt: receipt, Rows: rows})
		}
	}
	return dups
}

// withoutRows folds the batch again without the quarantined rows, so a
// quarantined row contributes neither its payment nor its student fields.
func withoutRows(batch *validation.Result, quarantined map[int]bool) *validation.Result {
	kept := make([]validation.Outcome, 0, len(batch.Outcomes))
	for _, o := range batch.Outcomes {
		if !quarantined[o.Row] {
			kept = append(kept, o)
		}
	}
	return validation.Fold(kept)
}
