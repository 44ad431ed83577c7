// =============================================================================
// Fee Ledger - Watch Command
// =============================================================================
//
// This file defines the 'watch' command, which imports every spreadsheet
// dropped in the input directory on a cron schedule.
//
// COMMAND USAGE:
//   feeledger watch [--once]
//
// PROCESSING FLOW (each tick):
//   1. Discover files in input_dir matching input_patterns
//   2. Import them one after another
//   3. Archive the ones that imported successfully
//   4. Move the ones that can never import as they are to input_dir/failed
//   5. Remove archives older than watch.retention_days
//
// A tick that starts while the previous one is still running is skipped.
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/pipeline"
	"github.com/ginjaninja78/feeledger/internal/store"
	"github.com/ginjaninja78/feeledger/pkg/utils"
)

var watchOnce bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Import new spreadsheets from the input directory on a schedule",
	Long: `The watch command scans the input directory on the configured cron schedule
(watch.schedule, default "@every 5m") and imports every matching spreadsheet.
Successfully imported files are moved to the input archive. Files that
cannot be read, or that strict mode rejects for duplicate receipts, are moved
to the failed/ subdirectory of the input directory so they are not retried
on every tick; fix them and drop them back in.

Use --once to run a single scan and exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Run a single scan and exit")
}

func runWatch() error {
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

	fm := utils.NewFileManager(a.cfg.InputDir, a.cfg.InputArchiveDir, a.cfg.ReportDir)
	if err := fm.EnsureDirectories(); err != nil {
		return err
	}

	w := &watcher{
		app:      a,
		fm:       fm,
		importer: newImporter(a, importCfg, false),
	}

	if watchOnce {
		return w.scan(ctx)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(a.cfg.Watch.Schedule, func() {
		if err := w.scan(ctx); err != nil {
			a.log.Error("scheduled scan failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid watch schedule %q: %w", a.cfg.Watch.Schedule, err)
	}

	a.log.Info("watching input directory",
		zap.String("dir", a.cfg.InputDir),
		zap.Strings("patterns", a.cfg.InputPatterns),
		zap.String("schedule", a.cfg.Watch.Schedule),
	)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.log.Info("watch stopped")
	return nil
}

// watcher holds what each scheduled scan reuses.
type watcher struct {
	app      *app
	fm       *utils.FileManager
	importer *pipeline.Importer
}

func (w *watcher) scan(ctx context.Context) error {
	cfg := w.app.cfg
	files, err := w.fm.DiscoverInputFiles(cfg.InputPatterns...)
	if err != nil {
		return err
	}
	if len(files) > 0 {
		fmt.Printf("Found %d file(s) in %s\n", len(files), cfg.InputDir)
	}

	archive := archiveOnSuccess(cfg)
	var failed int
	for _, path := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := importFile(ctx, w.app, w.importer, w.fm, path, archive); err != nil {
			failed++
			if errors.Is(err, store.ErrStoreUnavailable) {
				// The remaining files are retried on the next tick.
				return err
			}
			if pipeline.IsFileRejected(err) {
				w.quarantine(path)
			}
		}
	}
	if failed > 0 {
		w.app.log.Warn("some files failed to import", zap.Int("failed", failed), zap.Int("files", len(files)))
	}

	if cfg.Watch.RetentionDays > 0 {
		removed, err := utils.CleanOldArchives(cfg.InputArchiveDir, time.Duration(cfg.Watch.RetentionDays)*24*time.Hour)
		if err != nil {
			w.app.log.Warn("failed to clean input archive", zap.Error(err))
		} else if removed > 0 {
			w.app.log.Info("old archives removed", zap.Int("removed", removed))
		}
	}
	return nil
}

func (w *watcher) quarantine(path string) {
	moved, err := w.fm.QuarantineInputFile(path)
	if err != nil {
		w.app.log.Warn("failed to move rejected file", zap.String("file", path), zap.Error(err))
		return
	}
	w.app.log.Warn("rejected file moved aside", zap.String("file", path), zap.String("to", moved))
	fmt.Printf("    moved to:    %s\n", moved)
}

func archiveOnSuccess(cfg *config.MainConfig) bool {
	return cfg.Watch.ArchiveOnSuccess == nil || *cfg.Watch.ArchiveOnSuccess
}
