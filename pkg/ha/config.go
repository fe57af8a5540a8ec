// Package ha serializes upgrade runs across processes that share one
// installation database.
package ha

import (
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kubeflow/upgrade-manager/internal/envconf"
)

// LockConfig holds configuration for the upgrade run lock.
type LockConfig struct {
	// Enabled controls whether runs take the database lock at all. Disable
	// only for single-process deployments.
	Enabled bool

	// Name identifies the lock. Installations sharing a database but not
	// their data may use different names.
	Name string

	// Identity is recorded as the lock holder. Defaults to the pod name or
	// hostname plus a random suffix.
	Identity string

	// MaxRetries bounds how often the table-based lock retries acquisition.
	MaxRetries int

	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration

	// StaleAfter is the age after which a table lock left by a crashed holder
	// is removed.
	StaleAfter time.Duration
}

// DefaultLockConfig returns a LockConfig with sensible defaults.
func DefaultLockConfig() *LockConfig {
	return &LockConfig{
		Enabled:       true,
		Name:          "upgrade-run",
		Identity:      defaultIdentity(),
		MaxRetries:    30,
		RetryInterval: 1 * time.Second,
		StaleAfter:    30 * time.Minute,
	}
}

// LockConfigFromEnv overlays UPGRADE_LOCK_ENABLED, UPGRADE_LOCK_NAME,
// UPGRADE_LOCK_MAX_RETRIES, UPGRADE_LOCK_RETRY_INTERVAL_SECONDS and
// UPGRADE_LOCK_STALE_AFTER_MINUTES on the defaults. The holder identity comes
// from POD_NAME when set.
func LockConfigFromEnv() *LockConfig {
	cfg := DefaultLockConfig()
	cfg.Enabled = envconf.Bool("UPGRADE_LOCK_ENABLED", cfg.Enabled)
	cfg.Name = envconf.String("UPGRADE_LOCK_NAME", cfg.Name)
	cfg.MaxRetries = envconf.Int("UPGRADE_LOCK_MAX_RETRIES", cfg.MaxRetries, 1)
	cfg.RetryInterval = envconf.Duration("UPGRADE_LOCK_RETRY_INTERVAL_SECONDS", time.Second, cfg.RetryInterval)
	cfg.StaleAfter = envconf.Duration("UPGRADE_LOCK_STALE_AFTER_MINUTES", time.Minute, cfg.StaleAfter)
	return cfg
}

func defaultIdentity() string {
	host := os.Getenv("POD_NAME")
	if host == "" {
		var err error
		if host, err = os.Hostname(); err != nil || host == "" {
			host = "unknown"
		}
	}
	return host + "-" + uuid.NewString()[:8]
}
