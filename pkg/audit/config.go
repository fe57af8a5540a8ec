package audit

import (
	"time"

	"github.com/kubeflow/upgrade-manager/internal/envconf"
)

// Config controls the run log and its retention sweep.
type Config struct {
	Enabled bool // Record finished runs. Default true.

	// RetentionDays is how long run records are kept. 0 keeps them forever.
	RetentionDays int
	// KeepLatest runs are never swept, however old.
	KeepLatest    int
	SweepInterval time.Duration
}

// DefaultConfig returns the default run log configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		RetentionDays: 365,
		KeepLatest:    10,
		SweepInterval: 24 * time.Hour,
	}
}

// ConfigFromEnv reads UPGRADE_RUNLOG_ENABLED, UPGRADE_RUNLOG_RETENTION_DAYS,
// UPGRADE_RUNLOG_KEEP_LATEST and UPGRADE_RUNLOG_SWEEP_INTERVAL_HOURS.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.Enabled = envconf.Bool("UPGRADE_RUNLOG_ENABLED", cfg.Enabled)
	cfg.RetentionDays = envconf.Int("UPGRADE_RUNLOG_RETENTION_DAYS", cfg.RetentionDays, 0)
	cfg.KeepLatest = envconf.Int("UPGRADE_RUNLOG_KEEP_LATEST", cfg.KeepLatest, 0)
	cfg.SweepInterval = envconf.Duration("UPGRADE_RUNLOG_SWEEP_INTERVAL_HOURS", time.Hour, cfg.SweepInterval)
	return cfg
}

func (c *Config) retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
