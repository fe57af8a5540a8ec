// Package main provides the upgrader CLI, which runs the upgrade tasks of an
// installation, reports on past runs and serves the upgrade API.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var buildVersion = "dev"

// cli carries state shared by the commands of one invocation.
type cli struct {
	out    io.Writer
	errOut io.Writer
	v      *viper.Viper
	cfg    *settings
	level  *slog.LevelVar
	logger *slog.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "upgrader",
		Short: "Run and inspect installation upgrade tasks",
		Long: `upgrader brings an installation's data up to date with the running
application by applying the upgrade tasks it has not completed yet.

Settings come from flags, UPGRADER_* environment variables and an optional
upgrader.yaml config file, on top of the UPGRADE_* package defaults.`,
		Version:      buildVersion,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if c.v, err = newViper(cmd.Flags()); err != nil {
				return err
			}
			if c.cfg, err = loadSettings(c.v); err != nil {
				return err
			}
			c.level = newLevel(c.cfg.LogLevel)
			c.logger = newLogger(errOut, c.level)
			slog.SetDefault(c.logger)
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	addGlobalFlags(root.PersistentFlags())

	root.AddCommand(c.newRunCmd())
	root.AddCommand(c.newSetupCmd())
	root.AddCommand(c.newPendingCmd())
	root.AddCommand(c.newHistoryCmd())
	root.AddCommand(c.newVersionsCmd())
	root.AddCommand(c.newRunsCmd())
	root.AddCommand(c.newReindexCmd())
	root.AddCommand(c.newServeCmd())
	return root
}

func (c *cli) open() (*app, error) {
	return newApp(c.cfg, c.logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
