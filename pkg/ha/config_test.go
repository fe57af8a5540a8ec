package ha

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultLockConfig(t *testing.T) {
	t.Setenv("POD_NAME", "upgrader-0")

	cfg := DefaultLockConfig()

	if !cfg.Enabled {
		t.Error("Enabled should be true by default")
	}
	if cfg.Name != "upgrade-run" {
		t.Errorf("Name = %q, want %q", cfg.Name, "upgrade-run")
	}
	if !strings.HasPrefix(cfg.Identity, "upgrader-0-") {
		t.Errorf("Identity = %q, want prefix %q", cfg.Identity, "upgrader-0-")
	}
	if cfg.MaxRetries != 30 {
		t.Errorf("MaxRetries = %d, want 30", cfg.MaxRetries)
	}
	if cfg.RetryInterval != time.Second {
		t.Errorf("RetryInterval = %v, want 1s", cfg.RetryInterval)
	}
	if cfg.StaleAfter != 30*time.Minute {
		t.Errorf("StaleAfter = %v, want 30m", cfg.StaleAfter)
	}
}

func TestIdentityIsUniquePerConfig(t *testing.T) {
	a, b := DefaultLockConfig(), DefaultLockConfig()
	if a.Identity == b.Identity {
		t.Errorf("identities should differ, both %q", a.Identity)
	}
}

func TestLockConfigFromEnv(t *testing.T) {
	t.Setenv("UPGRADE_LOCK_ENABLED", "false")
	t.Setenv("UPGRADE_LOCK_NAME", "tenant-a")
	t.Setenv("UPGRADE_LOCK_MAX_RETRIES", "5")
	t.Setenv("UPGRADE_LOCK_RETRY_INTERVAL_SECONDS", "3")
	t.Setenv("UPGRADE_LOCK_STALE_AFTER_MINUTES", "90")

	cfg := LockConfigFromEnv()

	if cfg.Enabled {
		t.Error("Enabled should be false")
	}
	if cfg.Name != "tenant-a" {
		t.Errorf("Name = %q, want tenant-a", cfg.Name)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.RetryInterval != 3*time.Second {
		t.Errorf("RetryInterval = %v, want 3s", cfg.RetryInterval)
	}
	if cfg.StaleAfter != 90*time.Minute {
		t.Errorf("StaleAfter = %v, want 90m", cfg.StaleAfter)
	}
}

func TestLockConfigFromEnv_InvalidValues(t *testing.T) {
	t.Setenv("UPGRADE_LOCK_MAX_RETRIES", "-1")
	t.Setenv("UPGRADE_LOCK_RETRY_INTERVAL_SECONDS", "soon")

	cfg := LockConfigFromEnv()

	if cfg.MaxRetries != 30 {
		t.Errorf("MaxRetries = %d, want default 30", cfg.MaxRetries)
	}
	if cfg.RetryInterval != time.Second {
		t.Errorf("RetryInterval = %v, want default 1s", cfg.RetryInterval)
	}
}
