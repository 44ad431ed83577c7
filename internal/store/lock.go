package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrImportInProgress is returned when the import lock could not be taken
// before the deadline.
var ErrImportInProgress = errors.New("another import is in progress")

// importLockKey is the PostgreSQL advisory lock id shared by all importers.
const importLockKey int64 = 0x4645454c

type importLock interface {
	acquire(ctx context.Context, db *sql.DB) (release func(), err error)
}

// AcquireImportLock blocks until this process holds the import lock or
// timeout elapses. The returned release func is safe to call more than once.
func (s *Store) AcquireImportLock(ctx context.Context, timeout time.Duration) (func(), error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	release, err := s.lock.acquire(ctx, sqlDB)
	if err != nil {
		return nil, err
	}
	s.log.Debug("import lock acquired")

	var once sync.Once
	return func() {
		once.Do(func() {
			release()
			s.log.Debug("import lock released")
		})
	}, nil
}

// =============================================================================
// POSTGRESQL
// =============================================================================

// advisoryLock holds a session-level advisory lock on a dedicated
// connection, so the lock lives exactly as long as that connection is
// checked out.
type advisoryLock struct {
	key  int64
	poll time.Duration
	log  *zap.Logger
}

func (l *advisoryLock) acquire(ctx context.Context, db *sql.DB) (func(), error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to reserve lock connection: %v", ErrStoreUnavailable, err)
	}

	poll := l.poll
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}

	for {
		var locked bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&locked); err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrImportInProgress, ctx.Err())
			}
			return nil, fmt.Errorf("failed to request import lock: %w", err)
		}
		if locked {
			return func() {
				if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key); err != nil && l.log != nil {
					l.log.Warn("failed to release import lock", zap.Error(err))
				}
				conn.Close()
			}, nil
		}

		select {
		case <-ctx.Done():
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrImportInProgress, ctx.Err())
		case <-time.After(poll):
		}
	}
}

// =============================================================================
// SQLITE
// =============================================================================

// localLock serializes imports within one process.
type localLock struct {
	sem chan struct{}
}

func newLocalLock() *localLock {
	return &localLock{sem: make(chan struct{}, 1)}
}

func (l *localLock) acquire(ctx context.Context, _ *sql.DB) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrImportInProgress, ctx.Err())
	}
}
