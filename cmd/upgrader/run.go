package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kubeflow/upgrade-manager/pkg/tasks"
	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
)

func (c *cli) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Apply the upgrade tasks the installation has not completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.close()

			report, runErr := a.orchestrator.Run(cmd.Context(), c.cfg.SetupMode)
			return c.finishRun(cmd.Context(), a, report, runErr)
		},
	}
	fs := cmd.Flags()
	fs.Bool(keySetupMode, false, "Tell tasks the data comes from a fresh installation")
	fs.String(keyBackupFile, "", "Write history and properties to this YAML file before any task runs")
	fs.String(keyPushGateway, "", "Push run metrics to this Prometheus push gateway")
	fs.Bool(keyReindexNow, false, "Process a queued reindex before exiting")
	return cmd
}

func (c *cli) newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the schema of a new installation and run the setup tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.close()

			if err := tasks.MigrateSchema(a.db); err != nil {
				return err
			}
			report, runErr := a.orchestrator.RunSetup(cmd.Context())
			return c.finishRun(cmd.Context(), a, report, runErr)
		},
	}
	fs := cmd.Flags()
	fs.String(keyPushGateway, "", "Push run metrics to this Prometheus push gateway")
	fs.Bool(keyReindexNow, false, "Process a queued reindex before exiting")
	return cmd
}

// finishRun prints the report and performs the follow-ups the flags ask for.
// The returned error is the run's fatal error, if any.
func (c *cli) finishRun(ctx context.Context, a *app, report *upgrade.Report, runErr error) error {
	if report == nil {
		return runErr
	}

	if c.cfg.ReindexNow && report.ReindexTriggered {
		attempts, err := a.workers.Drain(ctx)
		if err != nil {
			c.logger.Error("reindex did not finish", "error", err)
		} else {
			c.logger.Info("reindex queue drained", "attempts", attempts)
		}
	}

	if c.cfg.PushGateway != "" {
		if err := a.metrics.Push(c.cfg.PushGateway, "upgrader"); err != nil {
			c.logger.Warn("failed to push metrics", "gateway", c.cfg.PushGateway, "error", err)
		}
	}

	if err := printReport(c.out, c.cfg.Output, report); err != nil {
		return err
	}
	if problems := report.Problems(); problems != nil && runErr == nil {
		fmt.Fprintln(c.errOut, problems)
	}
	return runErr
}

func printReport(w io.Writer, format outputFormat, r *upgrade.Report) error {
	var rows [][]string
	add := func(res upgrade.TaskResult) {
		rows = append(rows, []string{
			res.TaskID,
			res.Version.String(),
			string(res.Status),
			strconv.Itoa(len(res.Warnings)),
			res.Duration.String(),
		})
	}
	for _, res := range r.Skipped {
		add(res)
	}
	for _, res := range r.Executed {
		add(res)
	}
	if r.Failed != nil {
		add(*r.Failed)
	}

	if err := printOutput(w, format, r, []string{"task", "version", "status", "warnings", "duration"}, rows); err != nil {
		return err
	}
	if format != outputTable {
		return nil
	}
	_, err := fmt.Fprintf(w, "\nrun %s: %s, version %s -> %s\n", r.RunID, r.Outcome, r.StartVersion, r.FinalVersion)
	return err
}
