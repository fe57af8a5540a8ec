package jobs

import (
	"time"
)

// JobState represents the lifecycle state of a reindex job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// FullReindexKey is the idempotency key shared by all full reindex requests,
// so at most one full reindex is queued or running at any time.
const FullReindexKey = "full-reindex"

// ReindexJob is the GORM model for a queued search reindex.
type ReindexJob struct {
	ID               string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	Reason           string     `gorm:"column:reason"`
	RunID            string     `gorm:"column:run_id;index:idx_reindex_job_run"`
	RequestedBy      string     `gorm:"column:requested_by;not null"`
	RequestedAt      time.Time  `gorm:"column:requested_at;not null"`
	State            JobState   `gorm:"column:state;index:idx_reindex_job_state;not null;default:queued"`
	Message          string     `gorm:"column:message"`
	StartedAt        *time.Time `gorm:"column:started_at"`
	FinishedAt       *time.Time `gorm:"column:finished_at"`
	AttemptCount     int        `gorm:"column:attempt_count;default:0"`
	LastError        string     `gorm:"column:last_error"`
	IdempotencyKey   *string    `gorm:"column:idempotency_key;uniqueIndex:idx_reindex_job_idemp_key"`
	DocumentsIndexed int        `gorm:"column:documents_indexed"`
	DurationMs       int64      `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (ReindexJob) TableName() string { return "reindex_jobs" }

// Key returns the idempotency key, or "" when the job has none.
func (j *ReindexJob) Key() string {
	if j.IdempotencyKey == nil {
		return ""
	}
	return *j.IdempotencyKey
}

// IsTerminal returns true if the job is in a terminal state.
func (j *ReindexJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}
