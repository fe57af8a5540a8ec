package audit

import (
	"context"
	"log/slog"
	"time"
)

// RetentionWorker sweeps run records older than the configured retention,
// sparing the most recent runs.
type RetentionWorker struct {
	log    *RunLog
	cfg    Config
	logger *slog.Logger
}

// NewRetentionWorker returns a worker for log. A nil cfg means DefaultConfig.
func NewRetentionWorker(log *RunLog, cfg *Config, logger *slog.Logger) *RetentionWorker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionWorker{log: log, cfg: *cfg, logger: logger}
}

// Run sweeps once immediately and then every SweepInterval until ctx is done.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.log == nil || w.cfg.RetentionDays <= 0 || w.cfg.SweepInterval <= 0 {
		w.logger.Info("run log retention disabled", "retentionDays", w.cfg.RetentionDays)
		return
	}
	w.logger.Info("run log retention started",
		"retentionDays", w.cfg.RetentionDays,
		"keepLatest", w.cfg.KeepLatest,
		"interval", w.cfg.SweepInterval.String())

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		w.sweep(ctx, time.Now())
		select {
		case <-ctx.Done():
			w.logger.Info("run log retention stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context, now time.Time) {
	cutoff := now.Add(-w.cfg.retention())
	deleted, err := w.log.DeleteOlderThan(ctx, cutoff, w.cfg.KeepLatest)
	switch {
	case err != nil:
		w.logger.Error("run log sweep failed", "error", err)
	case deleted > 0:
		w.logger.Info("swept old runs", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
}
