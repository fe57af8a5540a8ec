package main

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/kubeflow/upgrade-manager/pkg/audit"
	"github.com/kubeflow/upgrade-manager/pkg/store"
	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
)

type pendingTask struct {
	TaskID      string `json:"taskId"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Passes      string `json:"passes"`
}

func (c *cli) newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List the upgrade tasks the next run would apply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.close()

			pending, err := a.orchestrator.Pending(cmd.Context())
			if err != nil {
				return err
			}
			items := lo.Map(pending, func(t upgrade.Task, _ int) pendingTask {
				return pendingTask{
					TaskID:      upgrade.TaskID(t),
					Version:     t.TargetVersion().String(),
					Description: t.ShortDescription(),
					Passes:      a.registry.PassesOf(t).String(),
				}
			})
			rows := lo.Map(items, func(p pendingTask, _ int) []string {
				return []string{p.TaskID, p.Version, p.Passes, truncate(p.Description, 60)}
			})
			return printOutput(c.out, c.cfg.Output, items, []string{"task", "version", "passes", "description"}, rows)
		},
	}
}

func (c *cli) newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List the upgrade tasks the installation has completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.store.ListHistory(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(history))
			for _, h := range history {
				rows = append(rows, []string{
					h.TaskID,
					h.TargetVersion.String(),
					formatTime(&h.AppliedAt),
					strconv.Itoa(len(h.Warnings)),
					truncate(h.Description, 60),
				})
			}
			if history == nil {
				history = []store.UpgradeHistory{}
			}
			return printOutput(c.out, c.cfg.Output, history, []string{"task", "version", "applied", "warnings", "description"}, rows)
		},
	}
}

type versionsOutput struct {
	CurrentVersion string                        `json:"currentVersion"`
	Versions       []store.UpgradeVersionHistory `json:"versions"`
}

func (c *cli) newVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "Show the installed version and when each version was reached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			current, err := a.store.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			reached, err := a.store.ListVersionHistory(ctx)
			if err != nil {
				return err
			}

			out := versionsOutput{CurrentVersion: current.String(), Versions: reached}
			if out.Versions == nil {
				out.Versions = []store.UpgradeVersionHistory{}
			}
			rows := make([][]string, 0, len(reached))
			for _, vh := range reached {
				rows = append(rows, []string{vh.TargetVersion.String(), formatTime(&vh.ReachedAt)})
			}
			if c.cfg.Output == outputTable {
				installed := out.CurrentVersion
				if current.IsZero() {
					installed = "none"
				}
				fmt.Fprintf(c.out, "installed version: %s\n\n", installed)
			}
			return printOutput(c.out, c.cfg.Output, out, []string{"version", "reached"}, rows)
		},
	}
}

func (c *cli) newRunsCmd() *cobra.Command {
	var (
		outcome string
		pass    string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded upgrade runs, or show one run's report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if len(args) == 1 {
				rec, err := a.runLog.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if rec == nil || rec.Report == nil {
					return fmt.Errorf("run %q not found", args[0])
				}
				return printReport(c.out, c.cfg.Output, rec.Report)
			}

			runs, _, total, err := a.runLog.List(ctx, audit.RunListFilter{Outcome: outcome, Pass: pass}, limit, "")
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.ID,
					r.Pass,
					r.Outcome,
					r.StartVersion + " -> " + r.FinalVersion,
					strconv.Itoa(r.Executed),
					strconv.Itoa(r.Warnings),
					formatTime(&r.StartedAt),
				})
			}
			if runs == nil {
				runs = []audit.RunRecord{}
			}
			if err := printOutput(c.out, c.cfg.Output, runs, []string{"run", "pass", "outcome", "versions", "executed", "warnings", "started"}, rows); err != nil {
				return err
			}
			if c.cfg.Output == outputTable && total > len(runs) {
				fmt.Fprintf(c.out, "\nshowing %d of %d runs\n", len(runs), total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only runs with this outcome")
	cmd.Flags().StringVar(&pass, "pass", "", "Only runs of this pass: upgrade or setup")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (at most 100)")
	return cmd
}
