package store

import (
	"time"

	"github.com/kubeflow/upgrade-manager/internal/envconf"
)

// Config selects and tunes the database backend.
type Config struct {
	Type            string        // sqlite, mysql or postgres. Default sqlite.
	DSN             string        // Driver-specific data source name. Default "upgrade.db".
	LogLevel        string        // gorm log level: silent, error, warn, info. Default warn.
	MaxOpenConns    int           // 0 keeps the driver default.
	ConnMaxLifetime time.Duration // 0 keeps the driver default.
	// DisableSavepoints forces per-item transactions in ForEach even when the
	// dialect supports savepoints.
	DisableSavepoints bool
}

// DefaultConfig returns the default database configuration.
func DefaultConfig() *Config {
	return &Config{
		Type:     "sqlite",
		DSN:      "upgrade.db",
		LogLevel: "warn",
	}
}

// ConfigFromEnv reads UPGRADE_DB_TYPE, UPGRADE_DB_DSN, UPGRADE_DB_LOG_LEVEL,
// UPGRADE_DB_MAX_OPEN_CONNS, UPGRADE_DB_CONN_MAX_LIFETIME_SECONDS and
// UPGRADE_DB_DISABLE_SAVEPOINTS.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.Type = envconf.Lower("UPGRADE_DB_TYPE", cfg.Type)
	cfg.DSN = envconf.String("UPGRADE_DB_DSN", cfg.DSN)
	cfg.LogLevel = envconf.Lower("UPGRADE_DB_LOG_LEVEL", cfg.LogLevel)
	cfg.MaxOpenConns = envconf.Int("UPGRADE_DB_MAX_OPEN_CONNS", cfg.MaxOpenConns, 0)
	cfg.ConnMaxLifetime = envconf.Duration("UPGRADE_DB_CONN_MAX_LIFETIME_SECONDS", time.Second, cfg.ConnMaxLifetime)
	cfg.DisableSavepoints = envconf.Bool("UPGRADE_DB_DISABLE_SAVEPOINTS", cfg.DisableSavepoints)
	return cfg
}
