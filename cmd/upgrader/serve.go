package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kubeflow/upgrade-manager/pkg/audit"
	"github.com/kubeflow/upgrade-manager/pkg/jobs"
	"github.com/kubeflow/upgrade-manager/pkg/metrics"
	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
)

const shutdownTimeout = 30 * time.Second

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upgrade API and process queued reindex jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.serve(cmd.Context())
			return nil
		},
	}
	fs := cmd.Flags()
	fs.String(keyListen, ":8080", "Address to listen on")
	fs.Bool(keyUpgradeOnStart, false, "Run pending upgrade tasks before serving")
	fs.Bool(keySetupMode, false, "Tell tasks run by --upgrade-on-start the data comes from a fresh installation")
	fs.String(keyMetricsNamespace, "", "Prefix of the exported metric names")
	return cmd
}

func (c *cli) serve(ctx context.Context) {
	_ = flag.Set("logtostderr", "true")
	logger := c.logger

	a, err := c.open()
	if err != nil {
		glog.Fatalf("Failed to open the installation database: %v", err)
	}
	defer a.close()

	if c.cfg.UpgradeOnStart {
		report, err := upgradeOnStart(ctx, a)
		if err != nil {
			glog.Fatalf("Upgrade run failed: %v", err)
		}
		logger.Info("upgrade run finished before serving", "runID", report.RunID, "outcome", report.Outcome)
	}

	reg, err := metrics.NewRegistry(a.metrics)
	if err != nil {
		glog.Fatalf("Failed to register metrics: %v", err)
	}
	c.watchConfig()

	httpServer := &http.Server{
		Addr:              c.cfg.Listen,
		Handler:           newRouter(a, metrics.Handler(reg)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	retention := audit.NewRetentionWorker(a.runLog, c.cfg.Audit, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.workers.Run(gctx)
		return nil
	})
	g.Go(func() error {
		retention.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("upgrade API ready", "listen", c.cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		glog.Fatalf("Upgrade API failed: %v", err)
	}
	logger.Info("upgrade API stopped")
}

// upgradeOnStart runs the pending tasks the way the run command does,
// honoring the configured setup mode.
func upgradeOnStart(ctx context.Context, a *app) (*upgrade.Report, error) {
	return a.orchestrator.Run(ctx, a.cfg.SetupMode)
}

// watchConfig re-reads the config file when it changes. Only the log level
// is applied to the running process.
func (c *cli) watchConfig() {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		s, err := loadSettings(c.v)
		if err != nil {
			c.logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		c.level.Set(newLevel(s.LogLevel).Level())
		c.logger.Info("config reloaded", "file", e.Name, "op", e.Op.String(), "logLevel", s.LogLevel)
	})
	c.v.WatchConfig()
}

// newRouter mounts the run log, history and reindex APIs under /api/v1.
func newRouter(a *app, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler(a))
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/reindex", jobs.Router(a.jobStore, a.trigger))
		r.Mount("/", audit.Router(a.runLog, a.store))
	})
	return r
}

type healthResponse struct {
	Status           string `json:"status"`
	InstalledVersion string `json:"installedVersion"`
	Orchestrator     string `json:"orchestrator"`
	ReindexDeferred  string `json:"reindexDeferred,omitempty"`
}

func healthHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := healthResponse{Status: "ok", Orchestrator: string(a.orchestrator.State())}
		status := http.StatusOK

		current, err := a.store.CurrentVersion(ctx)
		if err != nil {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.InstalledVersion = current.String()
		}
		if reason, ok, err := a.store.DeferredReindex(ctx); err == nil && ok {
			resp.ReindexDeferred = reason
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
