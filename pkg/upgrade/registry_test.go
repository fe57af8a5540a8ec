package upgrade

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeflow/upgrade-manager/pkg/version"
)

func buildTask(n int64) *Func {
	return &Func{Version: version.Build(n), Description: "task " + version.Build(n).String()}
}

func versionsOf(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.TargetVersion().String())
	}
	return out
}

func TestRegistryOrdersTasks(t *testing.T) {
	r := NewRegistry()
	for _, n := range []int64{300, 100, 500, 200, 400} {
		require.NoError(t, r.Register(buildTask(n)))
	}

	assert.Equal(t, 5, r.Len())
	assert.Equal(t, []string{"100", "200", "300", "400", "500"}, versionsOf(r.All()))
	assert.Equal(t, "500", r.Latest().String())
}

func TestTasksAfterYieldsStrictSuffix(t *testing.T) {
	r := NewRegistry()
	all := []int64{10, 20, 30, 40, 50, 60}
	for _, n := range all {
		require.NoError(t, r.Register(buildTask(n)))
	}

	for k, n := range all {
		seq := r.TasksAfter(version.Build(n))
		want := make([]string, 0)
		for _, m := range all[k+1:] {
			want = append(want, version.Build(m).String())
		}
		first := versionsOf(slices.Collect(seq))
		second := versionsOf(slices.Collect(seq))
		assert.Equal(t, want, first, "tasks after %d", n)
		assert.Equal(t, first, second, "sequence must be re-enumerable")
	}

	assert.Len(t, slices.Collect(r.TasksAfter(version.Zero)), len(all))
	assert.Equal(t, []string{"30", "40", "50", "60"}, versionsOf(slices.Collect(r.TasksAfter(version.Build(25)))))
	assert.Empty(t, slices.Collect(r.TasksAfter(version.MustParse("1.0.0"))))
}

func TestTasksAfterStopsEarly(t *testing.T) {
	r := NewRegistry()
	for _, n := range []int64{1, 2, 3} {
		require.NoError(t, r.Register(buildTask(n)))
	}
	var seen int
	for range r.TasksAfter(version.Zero) {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestRegisterRejectsDuplicateVersion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(buildTask(100)))

	err := r.Register(&Func{Version: version.MustParse("0100"), Description: "other"})
	require.ErrorIs(t, err, ErrDuplicateTargetVersion)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Func{ID: "lowercase-users", Version: version.Build(1)}))

	err := r.Register(&Func{ID: "lowercase-users", Version: version.Build(2)})
	require.ErrorIs(t, err, ErrDuplicateTaskID)
}

func TestRegisterNil(t *testing.T) {
	assert.Error(t, NewRegistry().Register(nil))
}

func TestMustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(buildTask(1))
	assert.Panics(t, func() { r.MustRegister(buildTask(1)) })
}

func TestLookup(t *testing.T) {
	r := NewRegistry()
	task := buildTask(7)
	require.NoError(t, r.Register(task))

	got, ok := r.Lookup(version.Build(7))
	require.True(t, ok)
	assert.Same(t, task, got)

	_, ok = r.Lookup(version.Build(8))
	assert.False(t, ok)
}

func TestSetupPasses(t *testing.T) {
	r := NewRegistry()
	upgradeOnly := buildTask(1)
	setupOnly := buildTask(2)
	both := buildTask(3)
	require.NoError(t, r.Register(upgradeOnly))
	require.NoError(t, r.Register(setupOnly, SetupOnly()))
	require.NoError(t, r.Register(both, AlsoOnSetup()))

	assert.Equal(t, []string{"1", "3"}, versionsOf(slices.Collect(r.TasksAfter(version.Zero))))
	assert.Equal(t, []string{"2", "3"}, versionsOf(slices.Collect(r.SetupTasks())))
	assert.Equal(t, PassUpgrade|PassSetup, r.PassesOf(both))
	assert.Equal(t, PassSetup, r.PassesOf(setupOnly))
	assert.Equal(t, "upgrade+setup", r.PassesOf(both).String())
}

func TestTaskIDDefaultsToVersion(t *testing.T) {
	assert.Equal(t, "upgrade_task_42", TaskID(buildTask(42)))
	assert.Equal(t, "custom", TaskID(&Func{ID: "custom", Version: version.Build(42)}))
}
