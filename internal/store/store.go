// =============================================================================
// Fee Ledger - Relational Store
// =============================================================================
//
// The store keeps two tables:
//   - students: one row per matricule (unique)
//   - payments: one row per receipt number (unique), each referencing
//     exactly one student
//
// PostgreSQL is the production backend; SQLite serves local runs and tests.
// Both are reached through gorm. Writes go through Merge (merge.go), reads
// through ReadSnapshot (queries.go), and import runs are serialized by
// AcquireImportLock (lock.go).
//
// =============================================================================

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ginjaninja78/feeledger/internal/config"
	"github.com/ginjaninja78/feeledger/internal/logger"
)

// ErrStoreUnavailable wraps connection and ping failures. It is fatal for an
// import run.
var ErrStoreUnavailable = errors.New("store unavailable")

// =============================================================================
// MODELS
// =============================================================================

// Student is the persisted form of a student.
type Student struct {
	ID          uint      `gorm:"primaryKey"`
	Matricule   string    `gorm:"type:varchar(32);not null;uniqueIndex"`
	Name        string    `gorm:"type:varchar(200)"`
	Sex         string    `gorm:"type:varchar(8)"`
	ClassRaw    string    `gorm:"type:varchar(50)"`
	Class       string    `gorm:"column:class_code;type:varchar(20);index"`
	Category    string    `gorm:"type:varchar(50)"`
	Section     string    `gorm:"type:varchar(50);index"`
	Phone       string    `gorm:"type:varchar(50)"`
	PhoneDigits string    `gorm:"type:varchar(30);index"`
	Email       string    `gorm:"type:varchar(200)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Payments []Payment `gorm:"foreignKey:StudentID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// Payment is the persisted form of a payment.
type Payment struct {
	ID            uint            `gorm:"primaryKey"`
	ReceiptNumber string          `gorm:"column:receipt_number;type:varchar(64);not null;uniqueIndex"`
	StudentID     uint            `gorm:"not null;index"`
	Matricule     string          `gorm:"type:varchar(32);not null;index"`
	MonthRaw      string          `gorm:"type:varchar(50)"`
	Month         *string         `gorm:"type:varchar(8);index"`
	FIP           decimal.Decimal `gorm:"column:fip;type:decimal(18,2);not null;default:0"`
	FF            decimal.Decimal `gorm:"column:ff;type:decimal(18,2);not null;default:0"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	PaidOn        *time.Time      `gorm:"index"`
	SchoolYear    string          `gorm:"type:varchar(20);index"`
	Obs           string          `gorm:"type:varchar(500)"`
	Jour          string          `gorm:"type:varchar(50)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// STORE
// =============================================================================

// Store wraps the gorm connection.
type Store struct {
	db     *gorm.DB
	driver string
	log    *zap.Logger
	lock   importLock
}

// Open connects to the configured database and pings it.
//
// PARAMETERS:
//   - ctx: Bounds the connection attempt together with ConnectTimeoutSeconds.
//   - cfg: The database settings.
//   - sqlLevel: The gorm log level name ("silent", "error", "warn", "info").
//   - log: The application logger; store queries are logged through it.
//
// RETURNS:
//   - The store.
//   - An error wrapping ErrStoreUnavailable when the database cannot be
//     reached.
func Open(ctx context.Context, cfg config.DatabaseSettings, sqlLevel string, log *zap.Logger) (*Store, error) {
	gormLog := logger.NewSQLLogger(log, sqlLevel, time.Duration(cfg.SlowQueryMillis)*time.Millisecond)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", ErrStoreUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get underlying sql.DB: %v", ErrStoreUnavailable, err)
	}

	if cfg.Driver == config.DriverSQLite {
		// SQLite allows one writer; a single connection also keeps
		// in-memory databases alive for the process lifetime.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMin) * time.Minute)
	}

	pingCtx := ctx
	if cfg.ConnectTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeoutSeconds)*time.Second)
		defer cancel()
	}
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStoreUnavailable, err)
	}

	log.Info("store connected", zap.String("driver", cfg.Driver))
	return New(db, cfg.Driver, log), nil
}

// New wraps an open gorm connection.
func New(db *gorm.DB, driver string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{db: db, driver: driver, log: log.Named("store")}
	if driver == config.DriverPostgres {
		s.lock = &advisoryLock{key: importLockKey, log: s.log}
	} else {
		s.lock = newLocalLock()
	}
	return s
}

// Migrate creates or updates the students and payments tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Student{}, &Payment{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// DB exposes the gorm handle for tests and tooling.
func (s *Store) DB() *gorm.DB { return s.db }

// Driver returns the configured driver name.
func (s *Store) Driver() string { return s.driver }
