// Package store is the gorm-backed storage for upgrade runs: completed task
// history, the installation version pointer, application properties and the
// schema helpers tasks use to stay idempotent.
package store

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database described by cfg.
func Open(cfg *Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Type) {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dsn, err := normalizeMySQLDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type %q (use sqlite, mysql or postgres)", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if isMemorySQLite(cfg) {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// normalizeMySQLDSN makes sure DATETIME columns scan into time.Time.
func normalizeMySQLDSN(dsn string) (string, error) {
	parsed, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	return parsed.FormatDSN(), nil
}

func isMemorySQLite(cfg *Config) bool {
	t := strings.ToLower(cfg.Type)
	return (t == "" || t == "sqlite") && strings.Contains(cfg.DSN, ":memory:")
}

func logLevel(s string) logger.LogLevel {
	switch strings.ToLower(s) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Capabilities describes what the connected backend supports.
type Capabilities struct {
	Dialect    string
	Savepoints bool
}

// CapabilitiesOf inspects db's dialector.
func CapabilitiesOf(db *gorm.DB) Capabilities {
	_, sp := db.Dialector.(gorm.SavePointerDialectorInterface)
	return Capabilities{Dialect: db.Dialector.Name(), Savepoints: sp}
}
