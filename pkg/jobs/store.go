package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrJobNotFound is returned when a job ID does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancelable is returned when canceling a job that is no longer queued.
	ErrJobNotCancelable = errors.New("only queued jobs can be canceled")
)

var activeStates = []JobState{JobStateQueued, JobStateRunning}
var terminalStates = []JobState{JobStateSucceeded, JobStateFailed, JobStateCanceled}

// JobStore provides database operations for reindex jobs.
type JobStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

// AutoMigrate creates or updates the reindex_jobs table.
func (s *JobStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ReindexJob{})
}

// JobListFilter defines filters for listing jobs.
type JobListFilter struct {
	State       string
	RequestedBy string
	RunID       string
}

// Enqueue creates a new queued job. If the job carries an idempotency key
// and an active job with the same key exists, that job is returned instead.
func (s *JobStore) Enqueue(ctx context.Context, job *ReindexJob) (*ReindexJob, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = JobStateQueued
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = s.now()
	}

	db := s.db.WithContext(ctx)
	key := job.Key()
	if key == "" {
		job.IdempotencyKey = nil
		if err := db.Create(job).Error; err != nil {
			return nil, fmt.Errorf("enqueue job: %w", err)
		}
		return job, nil
	}

	var result *ReindexJob
	var raced bool
	err := db.Transaction(func(tx *gorm.DB) error {
		existing, err := findActive(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		// Release the key held by finished jobs so the unique index admits a new one.
		if err := tx.Model(&ReindexJob{}).
			Where("idempotency_key = ? AND state IN ?", key, terminalStates).
			Update("idempotency_key", nil).Error; err != nil {
			return fmt.Errorf("release idempotency key: %w", err)
		}

		if err := tx.Create(job).Error; err != nil {
			raced = true
			return err
		}
		result = job
		return nil
	})
	if err != nil && raced {
		// Another writer created the job between the check and the insert.
		existing, lookupErr := findActive(db, key)
		if lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func findActive(db *gorm.DB, key string) (*ReindexJob, error) {
	var existing ReindexJob
	err := db.Where("idempotency_key = ? AND state IN ?", key, activeStates).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}
	return &existing, nil
}

// Claim atomically picks the oldest queued job and transitions it to running.
// Row locks with SKIP LOCKED are used on PostgreSQL and MySQL.
// Returns nil if no jobs are available.
func (s *JobStore) Claim(ctx context.Context, maxRetries int) (*ReindexJob, error) {
	var job ReindexJob
	var claimed bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("state = ? AND attempt_count <= ?", JobStateQueued, maxRetries).
			Order("requested_at ASC").
			Limit(1)
		switch tx.Dialector.Name() {
		case "postgres", "mysql":
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&job).Error; err != nil {
			return err
		}
		if job.ID == "" {
			return nil
		}

		res := tx.Model(&ReindexJob{}).Where("id = ? AND state = ?", job.ID, JobStateQueued).
			Updates(map[string]any{
				"state":         JobStateRunning,
				"started_at":    s.now(),
				"finished_at":   nil,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected == 1
		if !claimed {
			return nil
		}
		return tx.First(&job, "id = ?", job.ID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		return nil, nil
	}
	return &job, nil
}

// Complete marks a job as succeeded.
func (s *JobStore) Complete(ctx context.Context, jobID string, documents int, duration time.Duration) error {
	result := s.db.WithContext(ctx).Model(&ReindexJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":             JobStateSucceeded,
		"finished_at":       s.now(),
		"documents_indexed": documents,
		"duration_ms":       duration.Milliseconds(),
		"message":           fmt.Sprintf("Indexed %d documents", documents),
	})
	if result.Error != nil {
		return fmt.Errorf("complete job: %w", result.Error)
	}
	return nil
}

// Fail records a failed attempt. The job is re-queued while attempts
// remain, and marked failed once maxRetries is reached.
// It reports whether the job reached the failed state.
func (s *JobStore) Fail(ctx context.Context, jobID string, errMsg string, maxRetries int) (bool, error) {
	db := s.db.WithContext(ctx)

	var job ReindexJob
	if err := db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return false, fmt.Errorf("load job for fail: %w", err)
	}

	updates := map[string]any{"last_error": errMsg}
	final := job.AttemptCount >= maxRetries
	if final {
		updates["state"] = JobStateFailed
		updates["finished_at"] = s.now()
		updates["message"] = "Max retries exceeded: " + errMsg
	} else {
		updates["state"] = JobStateQueued
		updates["started_at"] = nil
	}

	if err := db.Model(&ReindexJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return final, nil
}

// Cancel marks a queued job as canceled. Running jobs are left to finish.
func (s *JobStore) Cancel(ctx context.Context, jobID string) error {
	db := s.db.WithContext(ctx)
	result := db.Model(&ReindexJob{}).
		Where("id = ? AND state = ?", jobID, JobStateQueued).
		Updates(map[string]any{
			"state":       JobStateCanceled,
			"finished_at": s.now(),
			"message":     "Canceled by user",
		})
	if result.Error != nil {
		return fmt.Errorf("cancel job: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return fmt.Errorf("%w: job %s is %s", ErrJobNotCancelable, jobID, job.State)
}

// Get retrieves a job by ID. It returns nil when the job does not exist.
func (s *JobStore) Get(ctx context.Context, jobID string) (*ReindexJob, error) {
	var job ReindexJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// Active returns the queued or running full reindex, if any.
func (s *JobStore) Active(ctx context.Context) (*ReindexJob, error) {
	return findActive(s.db.WithContext(ctx), FullReindexKey)
}

// List returns jobs matching filter, newest first, with a token for the next page.
func (s *JobStore) List(ctx context.Context, filter JobListFilter, pageSize int, pageToken string) ([]ReindexJob, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&ReindexJob{})
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.RequestedBy != "" {
			q = q.Where("requested_by = ?", filter.RequestedBy)
		}
		if filter.RunID != "" {
			q = q.Where("run_id = ?", filter.RunID)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery().Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count jobs: %w", err)
	}

	query := buildQuery().Order("requested_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("requested_at < ?", t)
	}

	var records []ReindexJob
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list jobs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].RequestedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, nextToken, int(totalSize), nil
}

// CleanupStuckJobs re-queues running jobs whose started_at is older than claimTimeout.
func (s *JobStore) CleanupStuckJobs(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	cutoff := s.now().Add(-claimTimeout)
	result := s.db.WithContext(ctx).Model(&ReindexJob{}).
		Where("state = ? AND started_at < ?", JobStateRunning, cutoff).
		Updates(map[string]any{
			"state":      JobStateQueued,
			"started_at": nil,
			"last_error": "Timed out (stuck job recovery)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup stuck jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes finished jobs older than cutoff.
func (s *JobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("state IN ? AND finished_at < ?", terminalStates, cutoff).
		Delete(&ReindexJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
