package upgrade

import (
	"context"
	"time"

	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// HistoryRecord is the durable proof that a task completed.
type HistoryRecord struct {
	TaskID      string
	Version     version.Version
	Description string
	AppliedAt   time.Time
	Warnings    []string
}

// HistoryStore records which tasks have completed on this installation.
// HasCompleted must reflect the latest durable write.
type HistoryStore interface {
	HasCompleted(ctx context.Context, taskID string) (bool, error)
	RecordCompletion(ctx context.Context, rec HistoryRecord) error
}

// VersionStore holds the installation's current version pointer.
type VersionStore interface {
	CurrentVersion(ctx context.Context) (version.Version, error)
	SetCurrentVersion(ctx context.Context, v version.Version) error
}

// Backend is the storage the orchestrator needs.
type Backend interface {
	HistoryStore
	VersionStore
}

// Transactor is implemented by backends that can run a function inside one
// storage transaction. Storage calls made with the ctx passed to fn take part
// in that transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// VersionHistoryRecorder is implemented by backends that keep a log of every
// version the installation reached.
type VersionHistoryRecorder interface {
	RecordVersionReached(ctx context.Context, v version.Version, at time.Time) error
}

// HistoryScrubber is implemented by backends that can forget completions
// newer than a version, used when an installation is downgraded.
type HistoryScrubber interface {
	ScrubNewerThan(ctx context.Context, v version.Version) (int64, error)
}

// ReindexDeferrer is implemented by backends that persist a notice when a
// required reindex was not allowed to run.
type ReindexDeferrer interface {
	DeferReindex(ctx context.Context, reason string) error
}

// Locker serializes runs across processes sharing the same installation.
type Locker interface {
	WithLock(ctx context.Context, fn func() error) error
}

// Recorder persists a report once a run has finished.
type Recorder interface {
	RecordRun(ctx context.Context, report *Report) error
}

// Observer receives run and task events, e.g. for metrics.
type Observer interface {
	TaskFinished(result TaskResult)
	RunFinished(report *Report)
}

// PreUpgradeHook runs before the first task of a non-setup run that has work
// to do, typically to take a backup. An error prevents the run from starting.
type PreUpgradeHook func(ctx context.Context, plan []Task) error

type noopLocker struct{}

func (noopLocker) WithLock(_ context.Context, fn func() error) error { return fn() }
