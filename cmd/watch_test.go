package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/store"
	"github.com/ginjaninja78/feeledger/pkg/utils"
)

const sheetHeader = "Matricule,Nom,Classe,Section,Telephone,NumRecu,Mois,FIP,FF,DatePaiement,AnneeScolaire\n"

func setupWatcher(t *testing.T) *watcher {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	st := store.New(db, config.DriverSQLite, zap.NewNop())
	require.NoError(t, st.Migrate(context.Background()))

	dir := t.TempDir()
	cfg := config.DefaultMainConfig()
	cfg.InputDir = filepath.Join(dir, "input")
	cfg.InputArchiveDir = filepath.Join(dir, "archive")
	cfg.ReportDir = filepath.Join(dir, "reports")

	importCfg, err := cfg.Import.Build()
	require.NoError(t, err)

	a := &app{cfg: cfg, log: zap.NewNop(), store: st}
	fm := utils.NewFileManager(cfg.InputDir, cfg.InputArchiveDir, cfg.ReportDir)
	require.NoError(t, fm.EnsureDirectories())

	return &watcher{app: a, fm: fm, importer: newImporter(a, importCfg, false)}
}

func drop(t *testing.T, w *watcher, name, content string) string {
	t.Helper()
	path := filepath.Join(w.app.cfg.InputDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestWatcherScan(t *testing.T) {
	w := setupWatcher(t)

	good := drop(t, w, "a_good.csv", sheetHeader+
		"PL001,Amani,4CG,Secondaire,,8670,Sept,80,0,15/09/2025,2025-2026\n")
	junk := drop(t, w, "b_junk.csv", "a,b,c\n1,2,3\n")
	dups := drop(t, w, "c_dups.csv", sheetHeader+
		"PL002,Bora,1P,Primaire,,1234,Sept,40,0,15/09/2025,2025-2026\n"+
		"PL003,Chiku,1P,Primaire,,1234,Oct,40,0,15/10/2025,2025-2026\n")

	require.NoError(t, w.scan(context.Background()))

	assert.NoFileExists(t, good)
	assert.NoFileExists(t, junk)
	assert.NoFileExists(t, dups)

	failed := w.fm.FailedDir()
	assert.FileExists(t, filepath.Join(failed, "b_junk.csv"))
	assert.FileExists(t, filepath.Join(failed, "c_dups.csv"))
	assert.NoFileExists(t, filepath.Join(failed, "a_good.csv"))

	t.Run("next tick has nothing to retry", func(t *testing.T) {
		files, err := w.fm.DiscoverInputFiles(w.app.cfg.InputPatterns...)
		require.NoError(t, err)
		assert.Empty(t, files)
		require.NoError(t, w.scan(context.Background()))
	})

	var n int64
	require.NoError(t, w.app.store.DB().Model(&store.Payment{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
