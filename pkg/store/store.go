package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// Store implements the upgrade backend on top of gorm.
type Store struct {
	db   *gorm.DB
	caps Capabilities
}

var (
	_ upgrade.Backend                = (*Store)(nil)
	_ upgrade.Transactor             = (*Store)(nil)
	_ upgrade.VersionHistoryRecorder = (*Store)(nil)
	_ upgrade.HistoryScrubber        = (*Store)(nil)
	_ upgrade.ReindexDeferrer        = (*Store)(nil)
)

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, caps: CapabilitiesOf(db)}
}

// AutoMigrate creates or updates the tables owned by the store.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&UpgradeHistory{}, &UpgradeVersionHistory{}, &Property{})
}

// DB returns the connection for ctx, joining a transaction started by
// InTransaction.
func (s *Store) DB(ctx context.Context) *gorm.DB {
	return Conn(ctx, s.db)
}

// Capabilities reports what the backend supports.
func (s *Store) Capabilities() Capabilities { return s.caps }

// DisableSavepoints makes ForEach fall back to per-item transactions.
func (s *Store) DisableSavepoints() { s.caps.Savepoints = false }

// InTransaction implements upgrade.Transactor.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return InTransaction(ctx, s.db, fn)
}

// HasCompleted reports whether a history record exists for taskID.
func (s *Store) HasCompleted(ctx context.Context, taskID string) (bool, error) {
	var count int64
	if err := s.DB(ctx).Model(&UpgradeHistory{}).Where("task_id = ?", taskID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check upgrade history: %w", err)
	}
	return count > 0, nil
}

// RecordCompletion inserts the history record. An existing record for the same
// task is left untouched.
func (s *Store) RecordCompletion(ctx context.Context, rec upgrade.HistoryRecord) error {
	row := UpgradeHistory{
		TaskID:        rec.TaskID,
		TargetVersion: rec.Version,
		Description:   rec.Description,
		Warnings:      rec.Warnings,
		AppliedAt:     rec.AppliedAt,
	}
	if row.AppliedAt.IsZero() {
		row.AppliedAt = time.Now()
	}
	err := s.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record upgrade history: %w", err)
	}
	return nil
}

// GetHistory returns the record for taskID, or nil if none exists.
func (s *Store) GetHistory(ctx context.Context, taskID string) (*UpgradeHistory, error) {
	var row UpgradeHistory
	err := s.DB(ctx).Where("task_id = ?", taskID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get upgrade history: %w", err)
	}
	return &row, nil
}

// ListHistory returns every completed task in ascending version order.
func (s *Store) ListHistory(ctx context.Context) ([]UpgradeHistory, error) {
	var rows []UpgradeHistory
	if err := s.DB(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list upgrade history: %w", err)
	}
	slices.SortStableFunc(rows, func(a, b UpgradeHistory) int {
		if c := version.Compare(a.TargetVersion, b.TargetVersion); c != 0 {
			return c
		}
		return a.AppliedAt.Compare(b.AppliedAt)
	})
	return rows, nil
}

// ScrubNewerThan deletes history and version-history rows for versions
// greater than v and returns the number of task records removed.
func (s *Store) ScrubNewerThan(ctx context.Context, v version.Version) (int64, error) {
	var removed int64
	err := s.InTransaction(ctx, func(ctx context.Context) error {
		rows, err := s.ListHistory(ctx)
		if err != nil {
			return err
		}
		var ids []uint
		for _, r := range rows {
			if r.TargetVersion.Compare(v) > 0 {
				ids = append(ids, r.ID)
			}
		}
		if len(ids) > 0 {
			res := s.DB(ctx).Where("id IN ?", ids).Delete(&UpgradeHistory{})
			if res.Error != nil {
				return fmt.Errorf("scrub upgrade history: %w", res.Error)
			}
			removed = res.RowsAffected
		}

		reached, err := s.ListVersionHistory(ctx)
		if err != nil {
			return err
		}
		var newer []string
		for _, r := range reached {
			if r.TargetVersion.Compare(v) > 0 {
				newer = append(newer, r.TargetVersion.String())
			}
		}
		if len(newer) > 0 {
			if err := s.DB(ctx).Where("target_version IN ?", newer).Delete(&UpgradeVersionHistory{}).Error; err != nil {
				return fmt.Errorf("scrub version history: %w", err)
			}
		}
		return nil
	})
	return removed, err
}

// CurrentVersion returns the installed version; version.Zero when the
// installation was never upgraded.
func (s *Store) CurrentVersion(ctx context.Context) (version.Version, error) {
	raw, ok, err := s.GetProperty(ctx, PropertyPatchedVersion)
	if err != nil {
		return version.Zero, err
	}
	if !ok || raw == "" {
		return version.Zero, nil
	}
	v, err := version.Parse(raw)
	if err != nil {
		return version.Zero, fmt.Errorf("installed version property: %w", err)
	}
	return v, nil
}

// SetCurrentVersion persists the installed version.
func (s *Store) SetCurrentVersion(ctx context.Context, v version.Version) error {
	return s.SetProperty(ctx, PropertyPatchedVersion, v.String())
}

// RecordVersionReached stores the first time the installation reached v.
func (s *Store) RecordVersionReached(ctx context.Context, v version.Version, at time.Time) error {
	row := UpgradeVersionHistory{TargetVersion: v, ReachedAt: at}
	err := s.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "target_version"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record version history: %w", err)
	}
	return nil
}

// ListVersionHistory returns the reached versions in ascending order.
func (s *Store) ListVersionHistory(ctx context.Context) ([]UpgradeVersionHistory, error) {
	var rows []UpgradeVersionHistory
	if err := s.DB(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list version history: %w", err)
	}
	slices.SortFunc(rows, func(a, b UpgradeVersionHistory) int {
		return version.Compare(a.TargetVersion, b.TargetVersion)
	})
	return rows, nil
}

// DeferReindex stores a notice that a required reindex was not run.
func (s *Store) DeferReindex(ctx context.Context, reason string) error {
	return s.SetProperty(ctx, PropertyReindexDeferred, time.Now().UTC().Format(time.RFC3339)+" "+reason)
}

// DeferredReindex returns the stored deferred-reindex notice, if any.
func (s *Store) DeferredReindex(ctx context.Context) (string, bool, error) {
	return s.GetProperty(ctx, PropertyReindexDeferred)
}

// ClearDeferredReindex removes the deferred-reindex notice.
func (s *Store) ClearDeferredReindex(ctx context.Context) error {
	return s.RemoveProperty(ctx, PropertyReindexDeferred)
}
