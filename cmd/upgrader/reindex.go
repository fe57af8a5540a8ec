package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kubeflow/upgrade-manager/pkg/jobs"
)

func (c *cli) newReindexCmd() *cobra.Command {
	var (
		reason    string
		queueOnly bool
	)
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Queue a full reindex and, unless --queue-only is set, run it",
		Long: `reindex requests a full rebuild of the search index. Use it after a
run that deferred its reindex. A running serve process picks up queued jobs
on its own, so --queue-only is enough there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			job, err := a.trigger.Enqueue(ctx, reason, "")
			if err != nil {
				return err
			}
			if !queueOnly {
				if _, err := a.workers.Drain(ctx); err != nil {
					return err
				}
				if job, err = a.jobStore.Get(ctx, job.ID); err != nil {
					return err
				}
			}

			rows := [][]string{{
				job.ID,
				string(job.State),
				strconv.Itoa(job.AttemptCount),
				strconv.Itoa(job.DocumentsIndexed),
				truncate(job.LastError, 60),
			}}
			return printOutput(c.out, c.cfg.Output, jobs.ToJobResponse(job), []string{"job", "state", "attempts", "documents", "error"}, rows)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "requested from the command line", "Why the reindex is needed")
	cmd.Flags().BoolVar(&queueOnly, "queue-only", false, "Only queue the job")
	return cmd
}
