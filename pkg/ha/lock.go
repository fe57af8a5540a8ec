package ha

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// RunLocker serializes upgrade runs.
type RunLocker interface {
	// WithLock executes fn while holding the run lock. It blocks until the
	// lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// ErrLockHeld is returned when the table lock could not be acquired within
// the configured retries.
var ErrLockHeld = errors.New("upgrade lock is held by another process")

// NewRunLocker creates a RunLocker appropriate for the database dialect.
// PostgreSQL uses session advisory locks; other databases use a lock table,
// which is created immediately.
func NewRunLocker(db *gorm.DB, cfg *LockConfig, logger *slog.Logger) (RunLocker, error) {
	if cfg == nil {
		cfg = DefaultLockConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if db == nil || !cfg.Enabled {
		return &noopRunLock{}, nil
	}
	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(cfg.Name))),
			logger: logger,
		}, nil
	}
	if err := db.AutoMigrate(&upgradeLockRecord{}); err != nil {
		return nil, fmt.Errorf("create upgrade lock table: %w", err)
	}
	return &tableRunLock{db: db, cfg: cfg, logger: logger}, nil
}

// noopRunLock is used when locking is disabled.
type noopRunLock struct{}

func (n *noopRunLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// pgAdvisoryLock holds a PostgreSQL advisory lock on a dedicated connection,
// since advisory locks belong to the session that took them.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
	logger *slog.Logger
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve connection for upgrade lock: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.lockID); err != nil {
		return fmt.Errorf("failed to acquire upgrade advisory lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", l.lockID); err != nil {
			l.logger.Error("failed to release upgrade advisory lock", "lockID", l.lockID, "error", err)
		}
	}()

	return fn()
}

// upgradeLockRecord is the table-based lock row for non-PostgreSQL databases.
type upgradeLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id;type:varchar(255)"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (upgradeLockRecord) TableName() string { return "upgrade_lock" }

// tableRunLock uses INSERT-or-fail on a lock table so that only one holder
// exists at a time, removing locks older than StaleAfter.
type tableRunLock struct {
	db     *gorm.DB
	cfg    *LockConfig
	logger *slog.Logger
}

func (l *tableRunLock) WithLock(ctx context.Context, fn func() error) error {
	lockRow := upgradeLockRecord{ID: l.cfg.Name, LockedBy: l.cfg.Identity}

	acquired := false
	for i := 0; i < l.cfg.MaxRetries; i++ {
		if l.cfg.StaleAfter > 0 {
			res := l.db.WithContext(ctx).
				Where("id = ? AND locked_at < ?", l.cfg.Name, time.Now().Add(-l.cfg.StaleAfter)).
				Delete(&upgradeLockRecord{})
			if res.Error == nil && res.RowsAffected > 0 {
				l.logger.Warn("removed stale upgrade lock", "lock", l.cfg.Name)
			}
		}

		lockRow.LockedAt = time.Now()
		result := l.db.WithContext(ctx).Create(&lockRow)
		if result.Error == nil {
			acquired = true
			break
		}

		if i == l.cfg.MaxRetries-1 {
			return fmt.Errorf("%w after %d attempts: %v", ErrLockHeld, l.cfg.MaxRetries, result.Error)
		}

		l.logger.Info("waiting for upgrade lock", "lock", l.cfg.Name, "attempt", i+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}

	if !acquired {
		return ErrLockHeld
	}

	defer func() {
		err := l.db.WithContext(context.WithoutCancel(ctx)).
			Where("id = ? AND locked_by = ?", l.cfg.Name, l.cfg.Identity).
			Delete(&upgradeLockRecord{}).Error
		if err != nil {
			l.logger.Error("failed to release upgrade lock", "lock", l.cfg.Name, "error", err)
		}
	}()

	return fn()
}

// LockHolder describes the current holder of the table lock.
type LockHolder struct {
	LockedBy string    `json:"lockedBy"`
	LockedAt time.Time `json:"lockedAt"`
}

// CurrentHolder returns the holder of the table lock named name, or nil if it
// is free. PostgreSQL advisory locks are not visible here.
func CurrentHolder(ctx context.Context, db *gorm.DB, name string) (*LockHolder, error) {
	if !db.Migrator().HasTable(&upgradeLockRecord{}) {
		return nil, nil
	}
	var rec upgradeLockRecord
	err := db.WithContext(ctx).Where("id = ?", name).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read upgrade lock: %w", err)
	}
	return &LockHolder{LockedBy: rec.LockedBy, LockedAt: rec.LockedAt}, nil
}
