package upgrade

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// Pass selects which set of tasks a run executes.
type Pass int

const (
	// PassUpgrade runs tasks against an existing installation.
	PassUpgrade Pass = 1 << iota
	// PassSetup runs tasks while a brand-new installation is being set up.
	PassSetup
)

func (p Pass) String() string {
	switch p {
	case PassUpgrade:
		return "upgrade"
	case PassSetup:
		return "setup"
	case PassUpgrade | PassSetup:
		return "upgrade+setup"
	}
	return fmt.Sprintf("pass(%d)", int(p))
}

// RegisterOption customizes how a task is registered.
type RegisterOption func(*entry)

// SetupOnly registers a task that runs only in the setup pass.
func SetupOnly() RegisterOption {
	return func(e *entry) { e.passes = PassSetup }
}

// AlsoOnSetup registers a task that runs in both the upgrade and the setup pass.
func AlsoOnSetup() RegisterOption {
	return func(e *entry) { e.passes = PassUpgrade | PassSetup }
}

type entry struct {
	task   Task
	id     string
	passes Pass
}

// Registry is the ordered catalog of known upgrade tasks. It is safe for
// concurrent use, but a run works on a snapshot taken when it starts.
type Registry struct {
	mu      sync.RWMutex
	entries []entry // sorted by target version
	ids     mapset.Set[string]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: mapset.NewThreadUnsafeSet[string]()}
}

// Register adds task to the catalog. Two tasks may not share a target version
// or a history identity.
func (r *Registry) Register(task Task, opts ...RegisterOption) error {
	if task == nil {
		return fmt.Errorf("cannot register nil upgrade task")
	}
	e := entry{task: task, id: TaskID(task), passes: PassUpgrade}
	for _, opt := range opts {
		opt(&e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v := task.TargetVersion()
	i := sort.Search(len(r.entries), func(i int) bool {
		return version.Compare(r.entries[i].task.TargetVersion(), v) >= 0
	})
	if i < len(r.entries) && r.entries[i].task.TargetVersion().Equal(v) {
		return fmt.Errorf("%w: %s claimed by %q and %q", ErrDuplicateTargetVersion,
			v, r.entries[i].task.ShortDescription(), task.ShortDescription())
	}
	if r.ids.Contains(e.id) {
		return fmt.Errorf("%w: %s", ErrDuplicateTaskID, e.id)
	}

	r.entries = slices.Insert(r.entries, i, e)
	r.ids.Add(e.id)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(task Task, opts ...RegisterOption) {
	if err := r.Register(task, opts...); err != nil {
		panic(err)
	}
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Lookup returns the task targeting v.
func (r *Registry) Lookup(v version.Version) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := sort.Search(len(r.entries), func(i int) bool {
		return version.Compare(r.entries[i].task.TargetVersion(), v) >= 0
	})
	if i < len(r.entries) && r.entries[i].task.TargetVersion().Equal(v) {
		return r.entries[i].task, true
	}
	return nil, false
}

// Latest returns the highest registered target version, or version.Zero.
func (r *Registry) Latest() version.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return version.Zero
	}
	return r.entries[len(r.entries)-1].task.TargetVersion()
}

// All returns every registered task in ascending order.
func (r *Registry) All() []Task {
	return slices.Collect(r.seq(PassUpgrade|PassSetup, nil))
}

// PassesOf reports the passes task was registered for.
func (r *Registry) PassesOf(task Task) Pass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.task == task {
			return e.passes
		}
	}
	return 0
}

// TasksAfter yields, in ascending order, the upgrade-pass tasks whose target
// version is strictly greater than v. The sequence can be iterated any number
// of times; each iteration reflects the registry at that moment.
func (r *Registry) TasksAfter(v version.Version) iter.Seq[Task] {
	return r.seq(PassUpgrade, &v)
}

// SetupTasks yields the setup-pass tasks in ascending order.
func (r *Registry) SetupTasks() iter.Seq[Task] {
	return r.seq(PassSetup, nil)
}

func (r *Registry) seq(pass Pass, after *version.Version) iter.Seq[Task] {
	return func(yield func(Task) bool) {
		r.mu.RLock()
		snapshot := slices.Clone(r.entries)
		r.mu.RUnlock()

		start := 0
		if after != nil {
			start = sort.Search(len(snapshot), func(i int) bool {
				return version.Compare(snapshot[i].task.TargetVersion(), *after) > 0
			})
		}
		for _, e := range snapshot[start:] {
			if e.passes&pass == 0 {
				continue
			}
			if !yield(e.task) {
				return
			}
		}
	}
}
