package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(settingsPath()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// cli carries state shared by every command: the resolved configuration.
type cli struct {
	settings string
	cfg      *Config
}

// open wires the application for one command invocation.
func (c *cli) open(cmd *cobra.Command) (*app, error) {
	return newApp(cmd.Context(), c.cfg, cmd.ErrOrStderr())
}

func newRootCmd(settings string) *cobra.Command {
	c := &cli{settings: settings}

	root := &cobra.Command{
		Use:   "dataflow",
		Short: "Run visual data pipelines from the command line",
		Long: `dataflow executes data pipelines: graphs of nodes that load, transform and chart
tabular data. Pipelines are JSON or YAML documents listing nodes and the
connections between them.

Configuration is read from ~/.dataflow/settings.json, DATAFLOW_* environment
variables and flags, in increasing priority.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := loadConfig(c.settings, cmd.Flags())
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("db", "", "Path to the run history database")
	pf.Bool("history", true, "Record runs and events in the history database")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.String("log-format", "", "Log format (text|json)")
	pf.Int("concurrency", 0, "Maximum nodes executing at once")
	pf.Duration("timeout", 0, "Per-node execution timeout")

	_ = root.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newRunCmd(c),
		newValidateCmd(c),
		newNodesCmd(c),
		newDiagramCmd(c),
		newHistoryCmd(c),
		newScheduleCmd(c),
		newSecretCmd(c),
		newServeCmd(c),
		newVersionCmd(),
	)
	return root
}
