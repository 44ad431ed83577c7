// =============================================================================
// Fee Ledger - Configuration Module
// =============================================================================
//
// This module is responsible for loading and managing the application
// configuration. It handles the main YAML configuration file, the optional
// .env file, and the per-run ImportConfig that drives the ingestion pipeline.
//
// CONFIGURATION SOURCES (later sources win):
//   1. Built-in defaults
//   2. Main Config (config.yaml)
//   3. Environment (.env file and process environment, DATABASE_URL only)
//   4. Command-line flags (applied by the cmd package)
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
// This is loaded from the main config.yaml file.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is the directory scanned by the watch command.
	// Default: "./input"
	InputDir string `yaml:"input_dir"`

	// InputArchiveDir receives spreadsheets after a successful import.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir"`

	// ReportDir receives error reports and run summaries.
	// Default: "./reports"
	ReportDir string `yaml:"report_dir"`

	// InputPatterns are the glob patterns the watch command imports.
	// Default: ["*.xlsx", "*.xls", "*.csv"]
	InputPatterns []string `yaml:"input_patterns"`

	// ReportNameFormat is the file name format for error reports.
	// Placeholders: {original}, {timestamp}, {uuid}, {run}
	// Default: "{original}_errors_{timestamp}"
	ReportNameFormat string `yaml:"report_name_format"`

	// ReportFormat is "csv" or "xlsx". Default: "csv"
	ReportFormat string `yaml:"report_format"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	Log LogSettings `yaml:"log"`

	// =========================================================================
	// STORE SETTINGS
	// =========================================================================

	Database DatabaseSettings `yaml:"database"`

	// =========================================================================
	// IMPORT SETTINGS
	// =========================================================================

	Import ImportSettings `yaml:"import"`

	// =========================================================================
	// SERVICE SETTINGS
	// =========================================================================

	Server ServerSettings `yaml:"server"`

	Watch WatchSettings `yaml:"watch"`
}

// LogSettings configures the structured logger.
type LogSettings struct {
	// Level: "debug", "info", "warn", "error". Default: "info"
	Level string `yaml:"level"`

	// Format: "console" or "json". Default: "console"
	Format string `yaml:"format"`

	// Output: "stdout", "stderr" or a file path. Default: "stderr"
	Output string `yaml:"output"`

	// SQLLevel is the level for store queries: "silent", "error", "warn",
	// "info". Default: "warn"
	SQLLevel string `yaml:"sql_level"`
}

// DatabaseSettings configures the relational store.
type DatabaseSettings struct {
	// Driver: "postgres" or "sqlite". Default: "sqlite"
	Driver string `yaml:"driver"`

	// DSN is the connection string. DATABASE_URL overrides it.
	// Default: "file:feeledger.db" for sqlite
	DSN string `yaml:"dsn"`

	MaxOpenConns       int `yaml:"max_open_conns"`
	MaxIdleConns       int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMin int `yaml:"conn_max_lifetime_minutes"`

	// ConnectTimeoutSeconds bounds the initial connection and ping.
	// Default: 10
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`

	// LockTimeoutSeconds bounds how long an import waits for the import lock.
	// Default: 30
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`

	// SlowQueryMillis is the slow query threshold for the store logger.
	// Default: 200
	SlowQueryMillis int `yaml:"slow_query_millis"`
}

// ServerSettings configures the read API.
type ServerSettings struct {
	// Addr is the listen address. Default: ":8080"
	Addr string `yaml:"addr"`
}

// WatchSettings configures scheduled imports of InputDir.
type WatchSettings struct {
	// Schedule is a cron spec. Default: "@every 5m"
	Schedule string `yaml:"schedule"`

	// ArchiveOnSuccess moves imported files to InputArchiveDir.
	// Default: true
	ArchiveOnSuccess *bool `yaml:"archive_on_success"`

	// RetentionDays removes archived spreadsheets older than this many days
	// after each scheduled run. 0 keeps them forever.
	RetentionDays int `yaml:"retention_days"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// DefaultMainConfig returns a configuration with every default applied.
func DefaultMainConfig() *MainConfig {
	var config MainConfig
	applyMainConfigDefaults(&config)
	return &config
}

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be read or parsed, or fails validation.
//
// A missing file is not an error; the defaults are used instead so that the
// CLI runs out of the box against a local SQLite store.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	var config MainConfig

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyMainConfigDefaults(&config)
	applyEnvironment(&config)

	if err := validateMainConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.InputDir == "" {
		config.InputDir = "./input"
	}
	if config.InputArchiveDir == "" {
		config.InputArchiveDir = "./input_archive"
	}
	if config.ReportDir == "" {
		config.ReportDir = "./reports"
	}
	if len(config.InputPatterns) == 0 {
		config.InputPatterns = []string{"*.xlsx", "*.xls", "*.csv"}
	}
	if config.ReportNameFormat == "" {
		config.ReportNameFormat = "{original}_errors_{timestamp}"
	}
	if config.ReportFormat == "" {
		config.ReportFormat = "csv"
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "console"
	}
	if config.Log.Output == "" {
		config.Log.Output = "stderr"
	}
	if config.Log.SQLLevel == "" {
		config.Log.SQLLevel = "warn"
	}

	db := &config.Database
	if db.Driver == "" {
		db.Driver = DriverSQLite
	}
	if db.DSN == "" && db.Driver == DriverSQLite {
		db.DSN = "file:feeledger.db"
	}
	if db.MaxOpenConns == 0 {
		db.MaxOpenConns = 10
	}
	if db.MaxIdleConns == 0 {
		db.MaxIdleConns = 5
	}
	if db.ConnMaxLifetimeMin == 0 {
		db.ConnMaxLifetimeMin = 30
	}
	if db.ConnectTimeoutSeconds == 0 {
		db.ConnectTimeoutSeconds = 10
	}
	if db.LockTimeoutSeconds == 0 {
		db.LockTimeoutSeconds = 30
	}
	if db.SlowQueryMillis == 0 {
		db.SlowQueryMillis = 200
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Watch.Schedule == "" {
		config.Watch.Schedule = "@every 5m"
	}
	if config.Watch.ArchiveOnSuccess == nil {
		archive := true
		config.Watch.ArchiveOnSuccess = &archive
	}
}

// applyEnvironment loads .env (if present) and lets DATABASE_URL override the
// configured DSN.
func applyEnvironment(config *MainConfig) {
	_ = godotenv.Load()

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		config.Database.DSN = dsn
		if config.Database.Driver == DriverSQLite && looksLikePostgres(dsn) {
			config.Database.Driver = DriverPostgres
		}
	}
	if config.Database.Driver == DriverPostgres {
		config.Database.DSN = ResolvePostgresDSN(config.Database.DSN)
	}
}

// validateMainConfig validates the main configuration.
func validateMainConfig(config *MainConfig) error {
	switch config.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", config.Database.Driver)
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for driver %q", config.Database.Driver)
	}

	switch config.ReportFormat {
	case "csv", "xlsx":
	default:
		return fmt.Errorf("unsupported report format %q", config.ReportFormat)
	}

	if _, err := config.Import.Build(); err != nil {
		return fmt.Errorf("import settings: %w", err)
	}

	// Create the working directories if they don't exist.
	dirs := []string{
		config.InputDir,
		config.InputArchiveDir,
		config.ReportDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// =============================================================================
// DATABASE HELPERS
// =============================================================================

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func looksLikePostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// ResolvePostgresDSN adds sslmode=require for hosted databases on render.com
// when the DSN does not already set an sslmode.
func ResolvePostgresDSN(dsn string) string {
	if !strings.Contains(dsn, "render.com") || strings.Contains(dsn, "sslmode=") {
		return dsn
	}

	if looksLikePostgres(dsn) {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("sslmode", "require")
		u.RawQuery = q.Encode()
		return u.String()
	}

	// Key/value form: "host=... user=...".
	return dsn + " sslmode=require"
}
