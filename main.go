// =============================================================================
// Fee Ledger - Main Entry Point
// =============================================================================
//
// Fee Ledger imports school-fee spreadsheets into a relational store and
// reconciles expected fees against payments.
//
// USAGE:
//   feeledger import <file>...   - Import spreadsheets
//   feeledger watch              - Import new files from the input directory
//   feeledger reconcile ...      - Student, section, month, class, journal
//   feeledger serve              - Read-only JSON API
//   feeledger version            - Display the application version
//
// ARCHITECTURE:
//   - cmd/                : CLI command definitions (Cobra)
//   - internal/canon      : Value canonicalization (amounts, dates, months...)
//   - internal/sheetreader: Header detection and row extraction
//   - internal/validation : Per-row validation into candidates
//   - internal/gate       : Batch-level duplicate receipt check
//   - internal/store      : Relational store, merge and read snapshots
//   - internal/reconcile  : Reconciliation queries
//   - internal/pipeline   : One import run, end to end
//   - internal/api        : HTTP read API
//   - pkg/utils           : File discovery, archiving, run summaries
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/feeledger/cmd"
)

func main() {
	cmd.Execute()
}
