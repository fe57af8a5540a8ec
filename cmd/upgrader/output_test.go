package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]outputFormat{
		"":      outputTable,
		"table": outputTable,
		"JSON":  outputJSON,
		"yaml":  outputYAML,
	} {
		got, err := parseOutputFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseOutputFormat("xml")
	assert.Error(t, err)
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTable(&buf, []string{"task", "version"}, [][]string{
		{"upgrade_task_100", "100"},
		{"upgrade_task_2000", "2000"},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "TASK"))
	assert.Equal(t, strings.Index(lines[0], "VERSION"), strings.LastIndex(lines[1], "100"))
}

func TestPrintYAMLUsesJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	r := &upgrade.Report{RunID: "r1", FinalVersion: version.Build(300)}
	require.NoError(t, printOutput(&buf, outputYAML, r, nil, nil))

	var m map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "r1", m["runId"])
	assert.Equal(t, "300", m["finalVersion"])
}

func TestPrintReportTable(t *testing.T) {
	var buf bytes.Buffer
	r := &upgrade.Report{
		RunID:        "r1",
		Outcome:      upgrade.OutcomeAborted,
		StartVersion: version.Build(100),
		FinalVersion: version.Build(200),
		Skipped:      []upgrade.TaskResult{{TaskID: "upgrade_task_100", Version: version.Build(100), Status: upgrade.TaskSkipped}},
		Executed:     []upgrade.TaskResult{{TaskID: "upgrade_task_200", Version: version.Build(200), Status: upgrade.TaskApplied}},
		Failed:       &upgrade.TaskResult{TaskID: "upgrade_task_300", Version: version.Build(300), Status: upgrade.TaskFailed},
	}
	require.NoError(t, printReport(&buf, outputTable, r))

	out := buf.String()
	for _, want := range []string{"upgrade_task_100", "upgrade_task_200", "upgrade_task_300", "run r1: aborted, version 100 -> 200"} {
		assert.Contains(t, out, want)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestBackupHookWritesSnapshot(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.store.SetProperty(ctx, "jira.title", "Tracker"))

	path := filepath.Join(t.TempDir(), "backup.yaml")
	hook := backupHook(a.store, path, a.logger)
	plan := a.registry.All()[:2]
	require.NoError(t, hook(ctx, plan))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var b backup
	require.NoError(t, yaml.Unmarshal(raw, &b))

	assert.Equal(t, "Tracker", b.Properties["jira.title"])
	require.Len(t, b.Plan, 2)
	assert.Equal(t, "upgrade_task_100", b.Plan[0].TaskID)
	assert.WithinDuration(t, time.Now(), b.CreatedAt, time.Minute)
}

func TestBackupHookFailsOnUnwritablePath(t *testing.T) {
	a := newTestApp(t)
	hook := backupHook(a.store, filepath.Join(t.TempDir(), "missing", "backup.yaml"), a.logger)
	assert.Error(t, hook(context.Background(), nil))
}
