package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/kubeflow/upgrade-manager/pkg/audit"
	"github.com/kubeflow/upgrade-manager/pkg/cache"
	"github.com/kubeflow/upgrade-manager/pkg/ha"
	"github.com/kubeflow/upgrade-manager/pkg/jobs"
	"github.com/kubeflow/upgrade-manager/pkg/metrics"
	"github.com/kubeflow/upgrade-manager/pkg/search"
	"github.com/kubeflow/upgrade-manager/pkg/store"
	"github.com/kubeflow/upgrade-manager/pkg/tasks"
	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
)

// app holds the components one command works with.
type app struct {
	cfg    *settings
	logger *slog.Logger

	db           *gorm.DB
	store        *store.Store
	runLog       *audit.RunLog
	jobStore     *jobs.JobStore
	trigger      *jobs.QueueTrigger
	indexer      *search.Indexer
	workers      *jobs.WorkerPool
	metrics      *metrics.Metrics
	registry     *upgrade.Registry
	orchestrator *upgrade.Orchestrator
}

// newLevel parses a log level name. Unknown names mean info.
func newLevel(name string) *slog.LevelVar {
	lvl := new(slog.LevelVar)
	switch strings.ToLower(name) {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}
	return lvl
}

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newApp opens the database and wires the orchestrator, the task registry
// and the reindex queue.
func newApp(cfg *settings, logger *slog.Logger) (*app, error) {
	db, err := store.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}
	if err := a.wire(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg, logger := a.cfg, a.logger

	a.store = store.NewStore(a.db)
	if cfg.DB.DisableSavepoints {
		a.store.DisableSavepoints()
	}
	a.runLog = audit.NewRunLog(a.db, logger)
	a.jobStore = jobs.NewJobStore(a.db)
	a.indexer = search.NewIndexer(a.db, logger)

	for name, migrate := range map[string]func() error{
		"upgrade store": a.store.AutoMigrate,
		"run log":       a.runLog.AutoMigrate,
		"reindex jobs":  a.jobStore.AutoMigrate,
		"search index":  a.indexer.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}

	locker, err := ha.NewRunLocker(a.db, cfg.Lock, logger)
	if err != nil {
		return err
	}

	props, invalidator := cache.NewCachedProperties(a.store, cfg.Cache)
	a.registry, err = tasks.NewRegistry(tasks.Deps{
		Store:      a.store,
		Properties: props,
		Cache:      invalidator,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	a.metrics = metrics.New(cfg.MetricsNamespace)
	a.trigger = jobs.NewQueueTrigger(a.jobStore, "upgrader", logger)
	a.workers = jobs.NewWorkerPool(a.jobStore, a.indexer, cfg.Jobs, logger,
		jobs.WithJobObserver(a.metrics),
		jobs.WithSuccessHook(func(ctx context.Context, _ *jobs.ReindexJob) error {
			return a.store.ClearDeferredReindex(ctx)
		}),
	)

	opts := []upgrade.Option{
		upgrade.WithReindexer(a.trigger),
		upgrade.WithLocker(locker),
		upgrade.WithObserver(a.metrics),
		upgrade.WithLogger(logger),
	}
	if cfg.Audit.Enabled {
		opts = append(opts, upgrade.WithRecorder(a.runLog))
	}
	if cfg.BackupFile != "" {
		opts = append(opts, upgrade.WithPreUpgradeHook(backupHook(a.store, cfg.BackupFile, logger)))
	}
	a.orchestrator = upgrade.NewOrchestrator(a.registry, a.store, cfg.Upgrade, opts...)
	return nil
}

func (a *app) close() {
	sqlDB, err := a.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}
