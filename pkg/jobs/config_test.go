package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobConfigFromEnv(t *testing.T) {
	defaults := *DefaultJobConfig()

	tests := []struct {
		name string
		envs map[string]string
		edit func(*JobConfig)
	}{
		{
			name: "defaults",
			edit: func(*JobConfig) {},
		},
		{
			name: "custom values",
			envs: map[string]string{
				"UPGRADE_REINDEX_CONCURRENCY":           "2",
				"UPGRADE_REINDEX_MAX_RETRIES":           "1",
				"UPGRADE_REINDEX_WORKERS_ENABLED":       "false",
				"UPGRADE_REINDEX_POLL_INTERVAL_SECONDS": "30",
				"UPGRADE_REINDEX_CLAIM_TIMEOUT_MINUTES": "45m",
				"UPGRADE_REINDEX_RETENTION_DAYS":        "7",
			},
			edit: func(c *JobConfig) {
				c.Concurrency = 2
				c.MaxRetries = 1
				c.Enabled = false
				c.PollInterval = 30 * time.Second
				c.ClaimTimeout = 45 * time.Minute
				c.RetentionDays = 7
			},
		},
		{
			name: "invalid concurrency falls back to default",
			envs: map[string]string{"UPGRADE_REINDEX_CONCURRENCY": "invalid"},
			edit: func(*JobConfig) {},
		},
		{
			name: "zero concurrency falls back to default",
			envs: map[string]string{"UPGRADE_REINDEX_CONCURRENCY": "0"},
			edit: func(*JobConfig) {},
		},
		{
			name: "zero retries allowed",
			envs: map[string]string{"UPGRADE_REINDEX_MAX_RETRIES": "0"},
			edit: func(c *JobConfig) { c.MaxRetries = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envs {
				t.Setenv(k, v)
			}
			want := defaults
			tt.edit(&want)
			assert.Equal(t, want, *JobConfigFromEnv())
		})
	}
}

func TestDefaultJobConfigRunsOneReindexAtATime(t *testing.T) {
	cfg := DefaultJobConfig()
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 2*time.Hour, cfg.ClaimTimeout)
	assert.True(t, cfg.Enabled)
}
