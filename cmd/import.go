// =============================================================================
// Fee Ledger - Import Command
// =============================================================================
//
// This file defines the 'import' command, which runs the ingestion pipeline
// on one or more spreadsheets.
//
// COMMAND USAGE:
//   feeledger import <file>... [flags]
//
// FLAGS:
//   --strict / --permissive : Duplicate receipt policy (overrides config)
//   --date-policy           : "mandatory" or "optional"
//   --amount-rule           : "fip" or "fip_plus_ff"
//   --workers               : Validation workers
//   --dry-run               : Read, validate and gate, but write nothing
//   --archive               : Move each successfully imported file to the
//                             input archive
//
// Files are imported one after another: the store accepts a single import
// at a time. A failed file does not stop the others.
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/pipeline"
	"github.com/ginjaninja78/feeledger/internal/report"
	"github.com/ginjaninja78/feeledger/internal/types"
	"github.com/ginjaninja78/feeledger/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	importStrict     bool
	importPermissive bool
	importDatePolicy string
	importAmountRule string
	importWorkers    int
	importDryRun     bool
	importArchive    bool
)

// =============================================================================
// IMPORT COMMAND DEFINITION
// =============================================================================

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import fee spreadsheets into the store",
	Long: `The import command reads each spreadsheet, validates every row, checks the
batch for duplicate receipt numbers and merges students and payments into the
store.

On success:
  - Students and payments are inserted or updated (never duplicated)
  - Rejected rows are listed in an error report in the report directory
  - A run summary is written next to the report

On a run-fatal error (header not found, store unreachable, duplicate
receipts in strict mode):
  - Nothing is written to the store
  - The error report lists the duplicates for the operator to fix`,

	Args: cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(args)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importStrict, "strict", false, "Reject the whole file on duplicate receipts")
	importCmd.Flags().BoolVar(&importPermissive, "permissive", false, "Quarantine duplicate receipt rows and import the rest")
	importCmd.MarkFlagsMutuallyExclusive("strict", "permissive")

	importCmd.Flags().StringVar(&importDatePolicy, "date-policy", "", `Payment date policy: "mandatory" or "optional"`)
	importCmd.Flags().StringVar(&importAmountRule, "amount-rule", "", `Payment amount: "fip" or "fip_plus_ff"`)
	importCmd.Flags().IntVar(&importWorkers, "workers", 0, "Number of validation workers")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate without writing to the store")
	importCmd.Flags().BoolVar(&importArchive, "archive", false, "Archive files that imported successfully")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runImport(files []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	importCfg, err := importConfigFromFlags(a.cfg)
	if err != nil {
		return err
	}

	importer := newImporter(a, importCfg, importDryRun)
	fm := utils.NewFileManager(a.cfg.InputDir, a.cfg.InputArchiveDir, a.cfg.ReportDir)

	var failed int
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		if _, err := importFile(ctx, a, importer, fm, path, importArchive && !importDryRun); err != nil {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed to import", failed, len(files))
	}
	return nil
}

// importConfigFromFlags applies command-line overrides on top of the
// configured import settings.
func importConfigFromFlags(cfg *config.MainConfig) (config.ImportConfig, error) {
	importCfg, err := cfg.Import.Build()
	if err != nil {
		return config.ImportConfig{}, fmt.Errorf("failed to build import config: %w", err)
	}

	switch {
	case importStrict:
		importCfg.DuplicatePolicy = types.DuplicateStrict
	case importPermissive:
		importCfg.DuplicatePolicy = types.DuplicatePermissive
	}
	if importDatePolicy != "" {
		importCfg.DatePolicy = types.DatePolicy(importDatePolicy)
	}
	if importAmountRule != "" {
		importCfg.AmountRule = types.AmountRule(importAmountRule)
	}
	if importWorkers > 0 {
		importCfg.Workers = importWorkers
	}

	if err := importCfg.Validate(); err != nil {
		return config.ImportConfig{}, fmt.Errorf("invalid import flags: %w", err)
	}
	return importCfg, nil
}

func newImporter(a *app, importCfg config.ImportConfig, dryRun bool) *pipeline.Importer {
	return pipeline.NewImporter(a.store, importCfg,
		pipeline.WithLogger(a.log),
		pipeline.WithReportWriter(report.NewWriter(a.cfg.ReportDir, a.cfg.ReportNameFormat, a.cfg.ReportFormat)),
		pipeline.WithLockTimeout(time.Duration(a.cfg.Database.LockTimeoutSeconds)*time.Second),
		pipeline.WithDryRun(dryRun),
	)
}

// importFile imports one file, writes its run summary, prints the outcome
// and optionally archives the file.
func importFile(ctx context.Context, a *app, importer *pipeline.Importer, fm *utils.FileManager, path string, archive bool) (*pipeline.Result, error) {
	name := filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("  ✗ %s: %v\n", name, err)
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	res, runErr := importer.Run(ctx, name, f)
	f.Close()

	summaryPath, err := utils.WriteSummaryLog(res.Summary(runErr), a.cfg.ReportDir)
	if err != nil {
		a.log.Warn("failed to write run summary", zap.Error(err))
	}

	printResult(res, runErr, summaryPath)
	if runErr != nil {
		return res, runErr
	}

	if archive {
		archived, err := fm.ArchiveInputFile(path)
		if err != nil {
			a.log.Warn("failed to archive input file", zap.String("file", path), zap.Error(err))
		} else {
			a.log.Debug("input archived", zap.String("file", path), zap.String("archive", archived))
		}
	}
	return res, nil
}

func printResult(res *pipeline.Result, runErr error, summaryPath string) {
	if runErr != nil {
		fmt.Printf("  ✗ %s: %v\n", res.Source, runErr)
		if !errors.Is(runErr, context.Canceled) {
			fmt.Println("    nothing was written to the store")
		}
	} else {
		fmt.Printf("  ✓ %s [%s]\n", res.Source, res.Status(nil))
	}

	if res.HeaderRow == 0 {
		return
	}
	fmt.Printf("    rows read:   %d (header at %s row %d)\n", res.Rows, res.Sheet, res.HeaderRow)
	fmt.Printf("    students:    %d inserted, %d updated, %d unchanged\n",
		res.StudentsInserted, res.StudentsUpdated, res.StudentsUnchanged)
	fmt.Printf("    payments:    %d inserted, %d updated, %d unchanged\n",
		res.PaymentsInserted, res.PaymentsUpdated, res.PaymentsUnchanged)
	fmt.Printf("    errors:      %d (%d row(s) rejected)\n", res.TotalErrors, res.RejectedRows)
	for _, g := range res.Duplicates {
		fmt.Printf("    duplicate receipt %s on rows %v\n", g.Receipt, g.RowNumbers())
	}
	if res.ReportPath != "" {
		fmt.Printf("    report:      %s\n", res.ReportPath)
	}
	if summaryPath != "" {
		fmt.Printf("    summary:     %s\n", summaryPath)
	}
}
