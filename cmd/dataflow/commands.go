package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rendis/dataflow/internal/diagram"
	"github.com/rendis/dataflow/internal/engine"
	"github.com/rendis/dataflow/internal/executors"
	"github.com/rendis/dataflow/pkg/schema"
)

const watchDebounce = 200 * time.Millisecond

type runOptions struct {
	node    string
	watch   bool
	preview int
}

func newRunCmd(c *cli) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Execute a pipeline document",
		Long: `Execute every node of a pipeline in dependency order.

With --node only that node and the ancestors it needs are executed. With
--watch the pipeline re-runs whenever the file changes; combined with --node,
unchanged ancestors are served from the previous run.`,
		Example: `  # Run a pipeline
  dataflow run sales.yaml

  # Run one node and print its output as JSON
  dataflow run sales.yaml --node top_regions --output json

  # Re-run on every save
  dataflow run sales.yaml --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(c.cfg.Output); err != nil {
				return err
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if opts.watch {
				return watchPipeline(cmd.Context(), cmd, a, args[0], opts)
			}
			_, err = runOnce(cmd.Context(), cmd, a, args[0], opts)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.node, "node", "", "Run only this node and its ancestors")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Re-run when the pipeline file changes")
	cmd.Flags().IntVar(&opts.preview, "preview", 10, "Rows of each node output to print (table output)")
	cmd.Flags().StringP("output", "o", "", "Output format (table|json|yaml)")
	_ = cmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{outputTable, outputJSON, outputYAML}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// runOnce loads, validates and executes the pipeline at path.
func runOnce(ctx context.Context, cmd *cobra.Command, a *app, path string, opts *runOptions) (*schema.Pipeline, error) {
	p, err := schema.LoadPipeline(path)
	if err != nil {
		return nil, err
	}

	vr := a.validator.Validate(p)
	renderIssues(cmd.ErrOrStderr(), vr)
	if !vr.Valid() {
		return p, vr.ToError()
	}

	if a.cfg.Output == outputTable {
		a.engine.SetCallbacks(progressCallbacks(cmd.ErrOrStderr()))
	}

	var res *engine.ExecutionResult
	if opts.node != "" {
		res, err = a.engine.ExecuteNode(ctx, opts.node, p.Nodes, p.Connections)
	} else {
		res, err = a.engine.ExecutePipeline(ctx, p)
	}
	if err != nil {
		return p, err
	}

	if a.cfg.Output == outputTable {
		renderResult(cmd.OutOrStdout(), p, res, opts.preview)
	} else if err := printValue(cmd.OutOrStdout(), a.cfg.Output, res); err != nil {
		return p, err
	}

	if !res.Success {
		return p, fmt.Errorf("pipeline %s", res.State)
	}
	return p, nil
}

func progressCallbacks(w io.Writer) engine.Callbacks {
	return engine.Callbacks{
		OnNodeComplete: func(nodeID string, r *engine.NodeResult) {
			mark := "ok"
			switch r.Status {
			case schema.NodeStatusError:
				mark = "FAIL"
			case schema.NodeStatusWarning:
				mark = "WARN"
			}
			_, _ = fmt.Fprintf(w, "  %-4s %s (%s)\n", mark, nodeID, r.Duration.Round(time.Millisecond))
		},
	}
}

// watchPipeline runs the pipeline, then again after every change to the
// file, until ctx ends. Run failures are reported and watching continues.
func watchPipeline(ctx context.Context, cmd *cobra.Command, a *app, path string, opts *runOptions) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	stderr := cmd.ErrOrStderr()
	prev, err := runOnce(ctx, cmd, a, abs, opts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	_, _ = fmt.Fprintf(stderr, "Watching %s (Ctrl+C to stop)\n", path)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			debounce.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watcher error", "error", err)
		case <-debounce.C:
			if opts.node != "" && prev != nil {
				if next, loadErr := schema.LoadPipeline(abs); loadErr == nil {
					invalidateChanged(a.engine, prev, next)
				}
			}
			_, _ = fmt.Fprintf(stderr, "\n%s changed, re-running\n", path)
			p, err := runOnce(ctx, cmd, a, abs, opts)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			}
			if p != nil {
				prev = p
			}
		}
	}
}

// invalidateChanged drops cached outputs of nodes whose type or config
// changed between two versions of a pipeline.
func invalidateChanged(e *engine.Engine, prev, next *schema.Pipeline) {
	for _, old := range prev.Nodes {
		cur := next.Node(old.ID)
		if cur != nil && cur.Type == old.Type && reflect.DeepEqual(cur.Config, old.Config) {
			continue
		}
		// Unknown nodes were never run; nothing to drop.
		_ = e.InvalidateNode(old.ID)
	}
}

func newValidateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <pipeline>",
		Short: "Check a pipeline document without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(c.cfg.Output); err != nil {
				return err
			}
			p, err := schema.LoadPipeline(args[0])
			if err != nil {
				return err
			}

			// Validation needs only the node catalog; skip the history store.
			cfg := *c.cfg
			cfg.History = false
			a, err := newApp(cmd.Context(), &cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			vr := a.validator.Validate(p)
			if c.cfg.Output != outputTable {
				if err := printValue(cmd.OutOrStdout(), c.cfg.Output, map[string]any{
					"valid":    vr.Valid(),
					"errors":   vr.Errors,
					"warnings": vr.Warnings,
				}); err != nil {
					return err
				}
			} else {
				renderIssues(cmd.OutOrStdout(), vr)
				if vr.Valid() {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d nodes, %d connections)\n",
						args[0], len(p.Nodes), len(p.Connections))
				}
			}
			if !vr.Valid() {
				return fmt.Errorf("%s: %d validation error(s)", args[0], len(vr.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output format (table|json|yaml)")
	return cmd
}

func newNodesCmd(c *cli) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the available node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(c.cfg.Output); err != nil {
				return err
			}
			cfg := *c.cfg
			cfg.History = false
			a, err := newApp(cmd.Context(), &cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			defs := make([]executors.NodeDefinition, 0, a.registry.Count())
			for _, d := range a.registry.List() {
				if category == "" || string(d.Category) == category {
					defs = append(defs, d)
				}
			}

			if c.cfg.Output != outputTable {
				return printValue(cmd.OutOrStdout(), c.cfg.Output, defs)
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Type", "Category", "Inputs", "Description"})
			for _, d := range defs {
				t.AppendRow(table.Row{d.Type, d.Category, strings.Join(d.Inputs, ", "), d.Description})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only list this category (input|transform|output|code)")
	cmd.Flags().StringP("output", "o", "", "Output format (table|json|yaml)")
	return cmd
}

type diagramOptions struct {
	format string
	out    string
	runID  string
}

func newDiagramCmd(c *cli) *cobra.Command {
	opts := &diagramOptions{}

	cmd := &cobra.Command{
		Use:   "diagram <pipeline>",
		Short: "Draw a pipeline's dependency graph",
		Long: `Draw a pipeline as ASCII art, a Mermaid flowchart, SVG or PNG.

With --run the node statuses of a recorded run are overlaid.`,
		Example: `  dataflow diagram sales.yaml
  dataflow diagram sales.yaml --format mermaid
  dataflow diagram sales.yaml --format png --out sales.png --run 3f2c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return drawDiagram(cmd, c, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "ascii", "Diagram format (ascii|mermaid|svg|png)")
	cmd.Flags().StringVar(&opts.out, "out", "", "Write to this file instead of stdout (required for png)")
	cmd.Flags().StringVar(&opts.runID, "run", "", "Overlay statuses from this recorded run")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"ascii", "mermaid", "svg", "png"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func drawDiagram(cmd *cobra.Command, c *cli, path string, opts *diagramOptions) error {
	p, err := schema.LoadPipeline(path)
	if err != nil {
		return err
	}

	cfg := *c.cfg
	cfg.History = cfg.History && opts.runID != ""
	a, err := newApp(cmd.Context(), &cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	var overlay map[string]*diagram.StatusOverlay
	if opts.runID != "" {
		s, err := a.requireStore()
		if err != nil {
			return err
		}
		run, err := s.GetRun(cmd.Context(), opts.runID)
		if err != nil {
			return err
		}
		overlay = diagram.OverlayFromRun(run)
	}

	model, err := diagram.Build(p, overlay, a.registry)
	if err != nil {
		return err
	}

	var out []byte
	switch opts.format {
	case "ascii":
		out = []byte(diagram.RenderASCII(model))
	case "mermaid":
		out = []byte(diagram.RenderMermaid(model))
	case "svg", "png":
		if opts.format == "png" && opts.out == "" {
			return errors.New("png output needs --out")
		}
		out, err = diagram.RenderImage(cmd.Context(), model, diagram.ImageFormat(opts.format))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown diagram format %q (ascii|mermaid|svg|png)", opts.format)
	}

	if opts.out == "" {
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	if err := os.WriteFile(opts.out, out, 0o644); err != nil {
		return fmt.Errorf("write diagram: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", opts.out)
	return nil
}
