package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rendis/dataflow/internal/scheduler"
	"github.com/rendis/dataflow/internal/store"
	"github.com/rendis/dataflow/pkg/schema"
)

// Scheduled jobs live in the history database and are run by `dataflow serve`.
func newScheduleCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron-scheduled pipeline runs",
		Long: `Manage pipelines that run on a cron schedule.

Jobs are stored in the history database and executed by "dataflow serve".`,
	}
	cmd.PersistentFlags().StringP("output", "o", "", "Output format (table|json|yaml)")

	cmd.AddCommand(
		newScheduleAddCmd(c),
		newScheduleListCmd(c),
		newScheduleRemoveCmd(c),
		newScheduleToggleCmd(c, true),
		newScheduleToggleCmd(c, false),
	)
	return cmd
}

// withScheduler hands fn a scheduler bound to the history store. The
// scheduler is not started.
func withScheduler(cmd *cobra.Command, c *cli, fn func(*scheduler.Scheduler) error) error {
	return withStore(cmd, c, func(a *app, s *store.LibSQLStore) error {
		return fn(scheduler.NewScheduler(s, a.engine, scheduler.Options{Logger: a.logger}))
	})
}

func newScheduleAddCmd(c *cli) *cobra.Command {
	var name, cronExpr string
	var disabled bool

	cmd := &cobra.Command{
		Use:   "add <pipeline>",
		Short: "Schedule a pipeline document",
		Example: `  dataflow schedule add sales.yaml --cron "0 6 * * *"
  dataflow schedule add sales.yaml --cron @hourly --name hourly-sales`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := schema.LoadPipeline(args[0])
			if err != nil {
				return err
			}
			return withScheduler(cmd, c, func(sched *scheduler.Scheduler) error {
				job, err := sched.Add(cmd.Context(), scheduler.Job{Name: name, Cron: cronExpr, Pipeline: p, Disabled: disabled})
				if err != nil {
					return err
				}
				if c.cfg.Output != outputTable {
					return printValue(cmd.OutOrStdout(), c.cfg.Output, job)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s (%s), next run %s\n", job.ID, job.Name, formatTime(job.NextRunAt))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Five-field cron expression or descriptor such as @daily")
	cmd.Flags().StringVar(&name, "name", "", "Job name (defaults to the pipeline name)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Store the job paused")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newScheduleListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScheduler(cmd, c, func(sched *scheduler.Scheduler) error {
				jobs, err := sched.List(cmd.Context())
				if err != nil {
					return err
				}
				if c.cfg.Output != outputTable {
					return printValue(cmd.OutOrStdout(), c.cfg.Output, jobs)
				}
				if len(jobs) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No scheduled jobs.")
					return nil
				}
				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"Job", "Name", "Cron", "Enabled", "Next run", "Last run", "Last status"})
				for _, j := range jobs {
					t.AppendRow(table.Row{
						j.ID, j.Name, j.CronExpression, j.Enabled,
						formatTime(j.NextRunAt), formatTime(j.LastRunAt), j.LastRunStatus,
					})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newScheduleRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, c, func(sched *scheduler.Scheduler) error {
				if err := sched.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newScheduleToggleCmd(c *cli, enable bool) *cobra.Command {
	use, short, verb := "disable <job-id>", "Pause a scheduled job", "Disabled"
	if enable {
		use, short, verb = "enable <job-id>", "Resume a paused job", "Enabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, c, func(sched *scheduler.Scheduler) error {
				if err := sched.SetEnabled(cmd.Context(), args[0], enable); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
				return nil
			})
		},
	}
}
