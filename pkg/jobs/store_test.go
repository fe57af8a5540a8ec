package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&ReindexJob{}))
	return db
}

func keyed(key string) *ReindexJob {
	return &ReindexJob{RequestedBy: "test-user", Reason: "test", IdempotencyKey: &key}
}

func TestEnqueueCreatesJob(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	created, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, JobStateQueued, created.State)
	assert.False(t, created.RequestedAt.IsZero())
}

func TestEnqueueWithoutKeyAllowsMany(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	for i := 0; i < 3; i++ {
		_, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
		require.NoError(t, err)
	}
	_, _, total, err := store.List(ctx, JobListFilter{}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestEnqueueIdempotencyReturnsExisting(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	first, err := store.Enqueue(ctx, keyed(FullReindexKey))
	require.NoError(t, err)

	second, err := store.Enqueue(ctx, keyed(FullReindexKey))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestEnqueueIdempotencyAllowsAfterTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	first, err := store.Enqueue(ctx, keyed(FullReindexKey))
	require.NoError(t, err)
	require.NoError(t, store.Cancel(ctx, first.ID))

	second, err := store.Enqueue(ctx, keyed(FullReindexKey))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// A second terminal job must not collide with the first on the unique index.
	require.NoError(t, store.Cancel(ctx, second.ID))
	third, err := store.Enqueue(ctx, keyed(FullReindexKey))
	require.NoError(t, err)
	assert.NotEqual(t, second.ID, third.ID)

	old, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "", old.Key())
}

func TestClaimReturnsOldestQueuedJob(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	older := &ReindexJob{RequestedBy: "a", RequestedAt: time.Now().Add(-time.Minute)}
	newer := &ReindexJob{RequestedBy: "b", RequestedAt: time.Now()}
	_, err := store.Enqueue(ctx, newer)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, older)
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, JobStateRunning, claimed.State)
	assert.Equal(t, 1, claimed.AttemptCount)
	assert.NotNil(t, claimed.StartedAt)
}

func TestClaimReturnsNilWhenEmpty(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	claimed, err := store.Claim(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimRespectsMaxRetries(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewJobStore(db)

	job, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)
	require.NoError(t, db.Model(&ReindexJob{}).Where("id = ?", job.ID).Update("attempt_count", 4).Error)

	claimed, err := store.Claim(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestCompleteUpdatesJob(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	job, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)
	_, err = store.Claim(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, store.Complete(ctx, job.ID, 42, 1500*time.Millisecond))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateSucceeded, got.State)
	assert.Equal(t, 42, got.DocumentsIndexed)
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.Equal(t, "Indexed 42 documents", got.Message)
	assert.NotNil(t, got.FinishedAt)
}

func TestFailRequeuesWhenRetriesLeft(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	job, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)
	_, err = store.Claim(ctx, 3)
	require.NoError(t, err)

	final, err := store.Fail(ctx, job.ID, "index offline", 3)
	require.NoError(t, err)
	assert.False(t, final)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
	assert.Equal(t, "index offline", got.LastError)
	assert.Nil(t, got.StartedAt)
}

func TestFailMarksFailedAtMaxRetries(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	job, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)
	_, err = store.Claim(ctx, 1)
	require.NoError(t, err)

	final, err := store.Fail(ctx, job.ID, "index offline", 1)
	require.NoError(t, err)
	assert.True(t, final)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, got.State)
	assert.Contains(t, got.Message, "Max retries exceeded")
}

func TestFailUnknownJob(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	_, err := store.Fail(context.Background(), "missing", "boom", 3)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCancelQueuedJobSucceeds(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	job, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)
	require.NoError(t, store.Cancel(ctx, job.ID))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateCanceled, got.State)
}

func TestCancelRunningJobFails(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	job, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)
	_, err = store.Claim(ctx, 3)
	require.NoError(t, err)

	err = store.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotCancelable)
}

func TestCancelNonExistentJobFails(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	err := store.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetReturnsNilForMissing(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	got, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestActiveReturnsOutstandingFullReindex(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	active, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	job, err := store.Enqueue(ctx, keyed(FullReindexKey))
	require.NoError(t, err)

	active, err = store.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)
}

func TestListWithFilters(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	_, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "alice", RunID: "run-1"})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, &ReindexJob{RequestedBy: "bob", RunID: "run-2"})
	require.NoError(t, err)
	canceled, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "alice"})
	require.NoError(t, err)
	require.NoError(t, store.Cancel(ctx, canceled.ID))

	records, _, total, err := store.List(ctx, JobListFilter{RequestedBy: "alice"}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, records, 2)

	records, _, total, err = store.List(ctx, JobListFilter{RunID: "run-2"}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bob", records[0].RequestedBy)

	_, _, total, err = store.List(ctx, JobListFilter{State: string(JobStateCanceled)}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := store.Enqueue(ctx, &ReindexJob{
			RequestedBy: fmt.Sprintf("user-%d", i),
			RequestedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	page1, next, total, err := store.List(ctx, JobListFilter{}, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page1, 2)
	assert.Equal(t, "user-4", page1[0].RequestedBy)
	require.NotEmpty(t, next)

	page2, next, _, err := store.List(ctx, JobListFilter{}, 2, next)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "user-2", page2[0].RequestedBy)

	page3, next, _, err := store.List(ctx, JobListFilter{}, 2, next)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "user-0", page3[0].RequestedBy)
	assert.Empty(t, next)
}

func TestListInvalidPageToken(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	_, _, _, err := store.List(context.Background(), JobListFilter{}, 10, "not-a-time")
	assert.Error(t, err)
}

func TestCleanupStuckJobs(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewJobStore(db)

	job, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)
	_, err = store.Claim(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, db.Model(&ReindexJob{}).Where("id = ?", job.ID).
		Update("started_at", time.Now().Add(-3*time.Hour)).Error)

	recovered, err := store.CleanupStuckJobs(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
	assert.Contains(t, got.LastError, "stuck")
}

func TestDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewJobStore(db)

	old, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)
	require.NoError(t, store.Cancel(ctx, old.ID))
	require.NoError(t, db.Model(&ReindexJob{}).Where("id = ?", old.ID).
		Update("finished_at", time.Now().AddDate(0, 0, -40)).Error)

	recent, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)
	require.NoError(t, store.Cancel(ctx, recent.ID))

	queued, err := store.Enqueue(ctx, &ReindexJob{RequestedBy: "test-user"})
	require.NoError(t, err)

	deleted, err := store.DeleteOlderThan(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	for _, id := range []string{recent.ID, queued.ID} {
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, got)
	}
}
