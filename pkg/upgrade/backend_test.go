package upgrade

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// memBackend is an in-memory Backend used by the orchestrator tests. It also
// holds a small key/value "data" area that tasks mutate, so transactional
// rollback can be observed.
type memBackend struct {
	mu       sync.Mutex
	current  version.Version
	history  map[string]HistoryRecord
	data     map[string]string
	reached  []version.Version
	deferred []string
	scrubbed []version.Version
	writes   int

	failCurrent error
	failHas     error
	failRecord  map[string]error
	failSet     error
}

var (
	_ Backend                = (*memBackend)(nil)
	_ Transactor             = (*memBackend)(nil)
	_ VersionHistoryRecorder = (*memBackend)(nil)
	_ HistoryScrubber        = (*memBackend)(nil)
	_ ReindexDeferrer        = (*memBackend)(nil)
)

func newMemBackend(current version.Version) *memBackend {
	return &memBackend{
		current:    current,
		history:    map[string]HistoryRecord{},
		data:       map[string]string{},
		failRecord: map[string]error{},
	}
}

func (b *memBackend) CurrentVersion(context.Context) (version.Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCurrent != nil {
		return version.Zero, b.failCurrent
	}
	return b.current, nil
}

func (b *memBackend) SetCurrentVersion(_ context.Context, v version.Version) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSet != nil {
		return b.failSet
	}
	b.writes++
	b.current = v
	return nil
}

func (b *memBackend) HasCompleted(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failHas != nil {
		return false, b.failHas
	}
	_, ok := b.history[id]
	return ok, nil
}

func (b *memBackend) RecordCompletion(_ context.Context, rec HistoryRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failRecord[rec.TaskID]; err != nil {
		return err
	}
	if _, ok := b.history[rec.TaskID]; ok {
		return nil
	}
	b.writes++
	b.history[rec.TaskID] = rec
	return nil
}

func (b *memBackend) RecordVersionReached(_ context.Context, v version.Version, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reached = append(b.reached, v)
	return nil
}

func (b *memBackend) ScrubNewerThan(_ context.Context, v version.Version) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scrubbed = append(b.scrubbed, v)
	var n int64
	for id, rec := range b.history {
		if rec.Version.Compare(v) > 0 {
			delete(b.history, id)
			n++
		}
	}
	return n, nil
}

func (b *memBackend) DeferReindex(_ context.Context, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deferred = append(b.deferred, reason)
	return nil
}

func (b *memBackend) put(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	b.data[key] = value
}

func (b *memBackend) get(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok
}

func (b *memBackend) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	current := b.current
	history := maps.Clone(b.history)
	data := maps.Clone(b.data)
	b.mu.Unlock()

	if err := fn(ctx); err != nil {
		b.mu.Lock()
		b.current = current
		b.history = history
		b.data = data
		b.mu.Unlock()
		return err
	}
	return nil
}

func (b *memBackend) version() version.Version {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

var errStorage = errors.New("storage unavailable")
