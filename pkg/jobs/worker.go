package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Indexer rebuilds the search index. It returns the number of documents indexed.
type Indexer interface {
	ReindexAll(ctx context.Context) (int, error)
}

// IndexerFunc adapts a function to Indexer.
type IndexerFunc func(ctx context.Context) (int, error)

// ReindexAll implements Indexer.
func (f IndexerFunc) ReindexAll(ctx context.Context) (int, error) { return f(ctx) }

// JobObserver is notified when a job attempt ends.
type JobObserver interface {
	JobFinished(state JobState, duration time.Duration)
}

// WorkerOption configures a WorkerPool.
type WorkerOption func(*WorkerPool)

// WithJobObserver registers an observer for finished attempts.
func WithJobObserver(o JobObserver) WorkerOption {
	return func(wp *WorkerPool) { wp.observer = o }
}

// WithSuccessHook registers fn to run after a job succeeds.
func WithSuccessHook(fn func(ctx context.Context, job *ReindexJob) error) WorkerOption {
	return func(wp *WorkerPool) { wp.onSuccess = fn }
}

// WorkerPool processes queued reindex jobs using a pool of goroutines.
type WorkerPool struct {
	store     *JobStore
	indexer   Indexer
	cfg       *JobConfig
	logger    *slog.Logger
	observer  JobObserver
	onSuccess func(ctx context.Context, job *ReindexJob) error
	wg        sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *JobStore, indexer Indexer, cfg *JobConfig, logger *slog.Logger, opts ...WorkerOption) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	wp := &WorkerPool{
		store:   store,
		indexer: indexer,
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(wp)
	}
	return wp
}

// Run starts cfg.Concurrency workers plus a cleanup loop and blocks until
// ctx is cancelled, then waits for all of them to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || wp.indexer == nil || !wp.cfg.Enabled {
		wp.logger.Info("reindex worker pool disabled")
		return
	}

	wp.logger.Info("reindex worker pool starting",
		"concurrency", wp.cfg.Concurrency,
		"maxRetries", wp.cfg.MaxRetries,
		"pollInterval", wp.cfg.PollInterval.String())

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.cleanupLoop(ctx)
	}()

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("reindex worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("reindex worker pool stopped")
}

// Drain processes queued jobs on the calling goroutine until none are left
// and returns how many attempts were made.
func (wp *WorkerPool) Drain(ctx context.Context) (int, error) {
	if wp.indexer == nil {
		return 0, fmt.Errorf("drain reindex queue: no indexer configured")
	}
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		processed, err := wp.processOne(ctx, -1)
		if err != nil {
			return attempts, err
		}
		if !processed {
			return attempts, nil
		}
		attempts++
	}
}

func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	wp.logger.Info("worker started", "workerID", workerID)

	for {
		select {
		case <-ctx.Done():
			wp.logger.Info("worker stopped", "workerID", workerID)
			return
		case <-ticker.C:
			if _, err := wp.processOne(ctx, workerID); err != nil {
				wp.logger.Error("failed to claim job", "workerID", workerID, "error", err)
			}
		}
	}
}

// processOne claims and runs a single job. It reports whether a job was claimed.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int) (bool, error) {
	job, err := wp.store.Claim(ctx, wp.cfg.MaxRetries)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	wp.logger.Info("processing reindex job",
		"workerID", workerID,
		"jobID", job.ID,
		"reason", job.Reason,
		"attempt", job.AttemptCount)

	start := time.Now()
	documents, err := wp.reindex(ctx)
	duration := time.Since(start)

	if err != nil {
		wp.logger.Error("reindex job failed",
			"workerID", workerID,
			"jobID", job.ID,
			"error", err)
		final, failErr := wp.store.Fail(ctx, job.ID, err.Error(), wp.cfg.MaxRetries)
		if failErr != nil {
			wp.logger.Error("failed to mark job as failed", "jobID", job.ID, "error", failErr)
		}
		state := JobStateQueued
		if final {
			state = JobStateFailed
		}
		wp.observe(state, duration)
		return true, nil
	}

	wp.logger.Info("reindex job completed",
		"workerID", workerID,
		"jobID", job.ID,
		"documents", documents,
		"duration", duration.String())

	if err := wp.store.Complete(ctx, job.ID, documents, duration); err != nil {
		wp.logger.Error("failed to mark job as complete", "jobID", job.ID, "error", err)
		return true, nil
	}
	wp.observe(JobStateSucceeded, duration)

	if wp.onSuccess != nil {
		if err := wp.onSuccess(ctx, job); err != nil {
			wp.logger.Warn("reindex success hook failed", "jobID", job.ID, "error", err)
		}
	}
	return true, nil
}

func (wp *WorkerPool) reindex(ctx context.Context) (documents int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("indexer panic: %v", r)
		}
	}()
	return wp.indexer.ReindexAll(ctx)
}

func (wp *WorkerPool) observe(state JobState, d time.Duration) {
	if wp.observer != nil {
		wp.observer.JobFinished(state, d)
	}
}

// cleanupLoop periodically recovers stuck jobs and deletes old finished ones.
func (wp *WorkerPool) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wp.cleanup(ctx)
		}
	}
}

func (wp *WorkerPool) cleanup(ctx context.Context) {
	if wp.cfg.ClaimTimeout > 0 {
		recovered, err := wp.store.CleanupStuckJobs(ctx, wp.cfg.ClaimTimeout)
		if err != nil {
			wp.logger.Error("failed to cleanup stuck jobs", "error", err)
		} else if recovered > 0 {
			wp.logger.Info("recovered stuck jobs", "count", recovered)
		}
	}

	if wp.cfg.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -wp.cfg.RetentionDays)
		deleted, err := wp.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			wp.logger.Error("failed to delete old jobs", "error", err)
		} else if deleted > 0 {
			wp.logger.Info("deleted old jobs", "count", deleted)
		}
	}
}
