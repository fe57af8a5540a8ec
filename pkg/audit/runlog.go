// Package audit keeps a durable log of upgrade runs and serves it, together
// with the upgrade history, over HTTP.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
)

// RunRecord is the stored summary of one orchestrator run.
type RunRecord struct {
	ID               string          `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Pass             string          `gorm:"column:pass;type:varchar(16);index:idx_upgrade_run_pass" json:"pass"`
	SetupMode        bool            `gorm:"column:setup_mode" json:"setupMode"`
	State            string          `gorm:"column:state;type:varchar(32)" json:"state"`
	Outcome          string          `gorm:"column:outcome;type:varchar(32);index:idx_upgrade_run_outcome" json:"outcome"`
	StartVersion     string          `gorm:"column:start_version;type:varchar(64)" json:"startVersion"`
	FinalVersion     string          `gorm:"column:final_version;type:varchar(64)" json:"finalVersion"`
	Planned          int             `gorm:"column:planned" json:"planned"`
	Executed         int             `gorm:"column:executed" json:"executed"`
	Skipped          int             `gorm:"column:skipped" json:"skipped"`
	Warnings         int             `gorm:"column:warnings" json:"warnings"`
	FailedTask       string          `gorm:"column:failed_task;type:varchar(255)" json:"failedTask,omitempty"`
	ReindexTriggered bool            `gorm:"column:reindex_triggered" json:"reindexTriggered"`
	ReindexDeferred  bool            `gorm:"column:reindex_deferred" json:"reindexDeferred"`
	Error            string          `gorm:"column:error;type:text" json:"error,omitempty"`
	StartedAt        time.Time       `gorm:"column:started_at;index:idx_upgrade_run_started;not null" json:"startedAt"`
	FinishedAt       time.Time       `gorm:"column:finished_at" json:"finishedAt"`
	Report           *upgrade.Report `gorm:"column:report;type:text;serializer:json" json:"report,omitempty"`
}

// TableName returns the GORM table name.
func (RunRecord) TableName() string { return "upgrade_runs" }

// RunListFilter defines filters for listing runs.
type RunListFilter struct {
	Outcome string
	Pass    string
}

var _ upgrade.Recorder = (*RunLog)(nil)

// RunLog stores finished run reports.
type RunLog struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRunLog creates a RunLog.
func NewRunLog(db *gorm.DB, logger *slog.Logger) *RunLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunLog{db: db, logger: logger}
}

// AutoMigrate creates or updates the upgrade_runs table.
func (l *RunLog) AutoMigrate() error {
	return l.db.AutoMigrate(&RunRecord{})
}

// RecordRun implements upgrade.Recorder. Recording the same run twice
// keeps the latest report.
func (l *RunLog) RecordRun(ctx context.Context, report *upgrade.Report) error {
	if report == nil || report.RunID == "" {
		return errors.New("record run: report has no run ID")
	}
	rec := recordFromReport(report)
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("record run %s: %w", report.RunID, err)
	}
	l.logger.Debug("run recorded", "runID", rec.ID, "outcome", rec.Outcome)
	return nil
}

func recordFromReport(r *upgrade.Report) *RunRecord {
	rec := &RunRecord{
		ID:               r.RunID,
		Pass:             r.Pass,
		SetupMode:        r.SetupMode,
		State:            string(r.State),
		Outcome:          string(r.Outcome),
		StartVersion:     r.StartVersion.String(),
		FinalVersion:     r.FinalVersion.String(),
		Planned:          r.Planned,
		Executed:         len(r.Executed),
		Skipped:          len(r.Skipped),
		Warnings:         len(r.Warnings()),
		ReindexTriggered: r.ReindexTriggered,
		ReindexDeferred:  r.ReindexDeferred,
		Error:            r.Error,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		Report:           r,
	}
	if r.Failed != nil {
		rec.FailedTask = r.Failed.TaskID
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	return rec
}

// Get returns the run with the given ID, or nil if it is unknown.
func (l *RunLog) Get(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	if err := l.db.WithContext(ctx).First(&rec, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &rec, nil
}

// Latest returns the most recently started run, or nil if none was recorded.
func (l *RunLog) Latest(ctx context.Context) (*RunRecord, error) {
	var rec RunRecord
	if err := l.db.WithContext(ctx).Order("started_at DESC").First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return &rec, nil
}

// List returns runs newest first with a token for the next page.
func (l *RunLog) List(ctx context.Context, filter RunListFilter, pageSize int, pageToken string) ([]RunRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func() *gorm.DB {
		q := l.db.WithContext(ctx).Model(&RunRecord{})
		if filter.Outcome != "" {
			q = q.Where("outcome = ?", filter.Outcome)
		}
		if filter.Pass != "" {
			q = q.Where("pass = ?", filter.Pass)
		}
		return q
	}

	var total int64
	if err := buildQuery().Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count runs: %w", err)
	}

	query := buildQuery().Omit("report").Order("started_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("started_at < ?", t)
	}

	var records []RunRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list runs: %w", err)
	}

	var next string
	if len(records) > pageSize {
		next = records[pageSize-1].StartedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, next, int(total), nil
}

// DeleteOlderThan removes runs that started before cutoff, except the
// keepLatest most recent runs.
func (l *RunLog) DeleteOlderThan(ctx context.Context, cutoff time.Time, keepLatest int) (int64, error) {
	db := l.db.WithContext(ctx)
	q := db.Where("started_at < ?", cutoff)
	if keepLatest > 0 {
		var keep []string
		if err := db.Model(&RunRecord{}).
			Order("started_at DESC").
			Limit(keepLatest).
			Pluck("id", &keep).Error; err != nil {
			return 0, fmt.Errorf("list latest runs: %w", err)
		}
		if len(keep) > 0 {
			q = q.Where("id NOT IN ?", keep)
		}
	}
	result := q.Delete(&RunRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
