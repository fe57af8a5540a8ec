package jobs

import (
	"time"

	"github.com/kubeflow/upgrade-manager/internal/envconf"
)

// JobConfig controls the reindex queue and worker behavior.
type JobConfig struct {
	Concurrency   int           // Max concurrent workers. Default 1.
	MaxRetries    int           // Max retry attempts per job. Default 3.
	PollInterval  time.Duration // How often workers poll for new jobs. Default 5s.
	ClaimTimeout  time.Duration // Max time a job can be in "running" before considered stuck. Default 2h.
	RetentionDays int           // How long to keep finished jobs. Default 30.
	Enabled       bool          // Whether the worker pool runs. Default true.
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency:   1,
		MaxRetries:    3,
		PollInterval:  5 * time.Second,
		ClaimTimeout:  2 * time.Hour,
		RetentionDays: 30,
		Enabled:       true,
	}
}

// JobConfigFromEnv overlays the UPGRADE_REINDEX_* variables on the defaults:
// CONCURRENCY, MAX_RETRIES, POLL_INTERVAL_SECONDS, CLAIM_TIMEOUT_MINUTES,
// RETENTION_DAYS and WORKERS_ENABLED.
func JobConfigFromEnv() *JobConfig {
	cfg := DefaultJobConfig()
	cfg.Concurrency = envconf.Int("UPGRADE_REINDEX_CONCURRENCY", cfg.Concurrency, 1)
	cfg.MaxRetries = envconf.Int("UPGRADE_REINDEX_MAX_RETRIES", cfg.MaxRetries, 0)
	cfg.PollInterval = envconf.Duration("UPGRADE_REINDEX_POLL_INTERVAL_SECONDS", time.Second, cfg.PollInterval)
	cfg.ClaimTimeout = envconf.Duration("UPGRADE_REINDEX_CLAIM_TIMEOUT_MINUTES", time.Minute, cfg.ClaimTimeout)
	cfg.RetentionDays = envconf.Int("UPGRADE_REINDEX_RETENTION_DAYS", cfg.RetentionDays, 1)
	cfg.Enabled = envconf.Bool("UPGRADE_REINDEX_WORKERS_ENABLED", cfg.Enabled)
	return cfg
}
