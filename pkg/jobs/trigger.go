package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
)

var _ upgrade.Reindexer = (*QueueTrigger)(nil)

// QueueTrigger satisfies upgrade.Reindexer by enqueueing a durable full
// reindex job. Repeated triggers while a job is queued or running collapse
// into that job.
type QueueTrigger struct {
	store       *JobStore
	requestedBy string
	reason      string
	logger      *slog.Logger
}

// NewQueueTrigger creates a trigger that enqueues jobs on store.
func NewQueueTrigger(store *JobStore, requestedBy string, logger *slog.Logger) *QueueTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	if requestedBy == "" {
		requestedBy = "upgrade-manager"
	}
	return &QueueTrigger{
		store:       store,
		requestedBy: requestedBy,
		reason:      "upgrade tasks changed indexed data",
		logger:      logger,
	}
}

// ReindexAll implements upgrade.Reindexer. The job carries the ID of the
// upgrade run found in ctx.
func (q *QueueTrigger) ReindexAll(ctx context.Context) error {
	_, err := q.Enqueue(ctx, q.reason, upgrade.RunIDFromContext(ctx))
	return err
}

// Enqueue requests a full reindex and returns the job that will perform it.
func (q *QueueTrigger) Enqueue(ctx context.Context, reason, runID string) (*ReindexJob, error) {
	key := FullReindexKey
	job, err := q.store.Enqueue(ctx, &ReindexJob{
		Reason:         reason,
		RequestedBy:    q.requestedBy,
		RunID:          runID,
		IdempotencyKey: &key,
	})
	if err != nil {
		return nil, fmt.Errorf("queue full reindex: %w", err)
	}
	q.logger.Info("full reindex queued", "jobID", job.ID, "state", job.State, "runID", runID)
	return job, nil
}
