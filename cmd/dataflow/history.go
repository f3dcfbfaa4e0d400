package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rendis/dataflow/internal/store"
)

func newHistoryCmd(c *cli) *cobra.Command {
	filter := store.RunFilter{}
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded pipeline runs",
		Example: `  dataflow history --limit 5
  dataflow history --pipeline sales --status failed --since 24h
  dataflow history show 3f2c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, c, func(a *app, s *store.LibSQLStore) error {
				if since > 0 {
					t := time.Now().UTC().Add(-since)
					filter.Since = &t
				}
				runs, err := s.ListRuns(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if c.cfg.Output != outputTable {
					return printValue(cmd.OutOrStdout(), c.cfg.Output, runs)
				}
				if len(runs) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
					return nil
				}
				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"Run", "Pipeline", "Status", "Nodes", "Failed", "Skipped", "Duration", "Started"})
				for _, r := range runs {
					t.AppendRow(table.Row{
						r.ID, r.Pipeline, r.Status,
						fmt.Sprintf("%d/%d", r.CompletedNodes, r.TotalNodes),
						r.FailedNodes, r.SkippedNodes,
						time.Duration(r.DurationMs) * time.Millisecond,
						formatTime(&r.StartedAt),
					})
				}
				t.Render()
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Skip this many runs")
	cmd.Flags().StringVar(&filter.Pipeline, "pipeline", "", "Only runs of this pipeline")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only runs in this state (completed|failed|aborted)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only runs started within this window, e.g. 24h")
	cmd.PersistentFlags().StringP("output", "o", "", "Output format (table|json|yaml)")

	cmd.AddCommand(
		newHistoryShowCmd(c),
		newHistoryEventsCmd(c),
		newHistoryTimelineCmd(c),
		newHistoryDeleteCmd(c),
		newHistoryVacuumCmd(c),
	)
	return cmd
}

// withStore opens the app with history enabled and hands over the store.
func withStore(cmd *cobra.Command, c *cli, fn func(*app, *store.LibSQLStore) error) error {
	if err := checkOutput(c.cfg.Output); err != nil {
		return err
	}
	a, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.requireStore()
	if err != nil {
		return err
	}
	return fn(a, s)
}

func newHistoryShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its per-node results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, c, func(_ *app, s *store.LibSQLStore) error {
				run, err := s.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if c.cfg.Output != outputTable {
					return printValue(cmd.OutOrStdout(), c.cfg.Output, run)
				}

				w := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(w, "Run %s (%s): %s\n", run.ID, run.Pipeline, run.Status)
				_, _ = fmt.Fprintf(w, "Started %s, took %s\n", formatTime(&run.StartedAt), time.Duration(run.DurationMs)*time.Millisecond)
				if run.Error != "" {
					_, _ = fmt.Fprintf(w, "Error: %s\n", run.Error)
				}
				t := newTable(w)
				t.AppendHeader(table.Row{"Node", "Type", "Status", "Rows", "Columns", "Duration", "Detail"})
				for _, n := range run.Nodes {
					detail := n.Error
					if detail == "" && len(n.Warnings) > 0 {
						detail = fmt.Sprintf("%d warning(s)", len(n.Warnings))
					}
					t.AppendRow(table.Row{
						n.NodeID, n.NodeType, n.Status, n.RowCount, n.ColumnCount,
						time.Duration(n.DurationMs) * time.Millisecond, detail,
					})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newHistoryEventsCmd(c *cli) *cobra.Command {
	var eventType string
	var limit int

	cmd := &cobra.Command{
		Use:   "events [run-id]",
		Short: "List logged events of a run, or of one type across runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, c, func(_ *app, s *store.LibSQLStore) error {
				runID := ""
				if len(args) == 1 {
					runID = args[0]
				}

				var (
					events []*store.Event
					err    error
				)
				switch {
				case eventType != "":
					events, err = s.GetEventsByType(cmd.Context(), eventType, store.EventFilter{RunID: runID, Limit: limit})
				case runID != "":
					events, err = s.GetEvents(cmd.Context(), runID, 0)
				default:
					return fmt.Errorf("a run ID or --type is required")
				}
				if err != nil {
					return err
				}

				if c.cfg.Output != outputTable {
					return printValue(cmd.OutOrStdout(), c.cfg.Output, events)
				}
				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"Seq", "Time", "Run", "Node", "Event"})
				for _, e := range events {
					t.AppendRow(table.Row{e.Sequence, e.Timestamp.Local().Format("15:04:05.000"), e.RunID, e.NodeID, e.Type})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "Only events of this type, e.g. node_failed")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events when filtering by type")
	return cmd
}

func newHistoryTimelineCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <run-id>",
		Short: "Rebuild per-node timings of a run from its event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, c, func(a *app, _ *store.LibSQLStore) error {
				tl, err := a.eventLog.ReplayEvents(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if c.cfg.Output != outputTable {
					return printValue(cmd.OutOrStdout(), c.cfg.Output, tl)
				}

				nodes := make([]*store.NodeTimeline, 0, len(tl))
				for _, n := range tl {
					nodes = append(nodes, n)
				}
				sort.Slice(nodes, func(i, j int) bool {
					ti, tj := nodes[i].StartedAt, nodes[j].StartedAt
					if ti == nil || tj == nil {
						if (ti == nil) != (tj == nil) {
							return tj == nil
						}
						return nodes[i].NodeID < nodes[j].NodeID
					}
					return ti.Before(*tj)
				})

				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"Node", "Status", "Started", "Completed", "Duration"})
				for _, n := range nodes {
					status := string(n.Status)
					if n.Skipped {
						status = "skipped"
					}
					t.AppendRow(table.Row{
						n.NodeID, status, formatTime(n.StartedAt), formatTime(n.CompletedAt),
						time.Duration(n.DurationMs) * time.Millisecond,
					})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newHistoryDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run with its node results and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, c, func(_ *app, s *store.LibSQLStore) error {
				if err := s.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
				return nil
			})
		},
	}
}

func newHistoryVacuumCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim space in the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, c, func(_ *app, s *store.LibSQLStore) error {
				return s.Vacuum(cmd.Context())
			})
		},
	}
}
