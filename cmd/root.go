// =============================================================================
// Fee Ledger - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every other command
// is attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (feeledger)
//   ├── importCmd    (feeledger import <file>...)
//   ├── watchCmd     (feeledger watch)
//   ├── reconcileCmd (feeledger reconcile student|section|month|class|journal)
//   ├── lookupCmd    (feeledger lookup phone)
//   ├── dashboardCmd (feeledger dashboard)
//   ├── serveCmd     (feeledger serve)
//   └── versionCmd   (feeledger version)
//
// CONFIGURATION:
//   The root command owns the global flags (--config, --verbose) and the
//   helpers every command uses to load configuration, build the logger and
//   open the store.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/logger"
	"github.com/ginjaninja78/feeledger/internal/reconcile"
	"github.com/ginjaninja78/feeledger/internal/store"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose switches the logger to debug level.
var verbose bool

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "feeledger",
	Short: "Fee Ledger - school-fee spreadsheet import and reconciliation",
	Long: `Fee Ledger imports the bursar's fee spreadsheets (xlsx, xls or csv) into a
relational store and reconciles what each student owes against what was paid,
month by month.

Key Features:
  - Header row located automatically, column names matched by synonyms
  - Dirty values normalized: amounts, dates, months, classes, receipts
  - Row errors collected into a report instead of aborting the run
  - Duplicate receipts rejected (strict) or quarantined (permissive)
  - Re-importing the same file never duplicates or corrupts payments

Example Usage:
  feeledger import paiements.xlsx          # Import one spreadsheet
  feeledger import --permissive *.xlsx     # Quarantine duplicate receipts
  feeledger reconcile student PL001        # Month-by-month status
  feeledger serve                          # Read-only JSON API`,

	SilenceUsage: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the CLI. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// app bundles what a command needs once configuration is loaded.
type app struct {
	cfg   *config.MainConfig
	log   *zap.Logger
	store *store.Store
}

// close releases the store and flushes the logger.
func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close store", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

// engine returns a reconciliation engine over the store.
func (a *app) engine() (*reconcile.Engine, error) {
	importCfg, err := a.cfg.Import.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build import config: %w", err)
	}
	return reconcile.NewEngine(a.store, importCfg.MaterialityThreshold), nil
}

// loadApp loads the configuration, builds the logger and opens and migrates
// the store.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadMainConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config: %w", err)
	}

	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if verbose {
		logCfg.Level = "debug"
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	st, err := store.Open(ctx, cfg.Database, cfg.Log.SQLLevel, log)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	log.Debug("store ready", zap.String("driver", st.Driver()))

	return &app{cfg: cfg, log: log, store: st}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
