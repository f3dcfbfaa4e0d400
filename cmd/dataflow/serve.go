package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/dataflow/internal/scheduler"
	"github.com/rendis/dataflow/pkg/mcp"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine as MCP tools and run scheduled pipelines",
		Long: `Start an MCP server exposing the dataflow.* tools over stdio (default) or
SSE. When run history is enabled the cron scheduler runs stored jobs in the
background, first catching up on jobs missed while the server was down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if transport != "stdio" && transport != "sse" {
				return fmt.Errorf("unknown transport %q (stdio|sse)", transport)
			}
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(cmd.Context(), a, transport)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (stdio|sse)")
	cmd.Flags().String("listen-addr", "", "SSE listen address (default :4200)")
	cmd.Flags().String("base-url", "", "Public base URL of the SSE endpoint")
	cmd.Flags().Duration("scheduler-interval", 0, "How often the scheduler polls for due jobs")
	return cmd
}

func serve(ctx context.Context, a *app, transport string) error {
	deps := mcp.DataflowServerDeps{
		Runner:    a.engine,
		Catalog:   a.registry,
		Validator: a.validator,
		Hub:       a.hub,
		Logger:    a.logger,
	}

	if a.store != nil {
		sched := scheduler.NewScheduler(a.store, a.newEngine(), scheduler.Options{
			Interval: a.cfg.SchedulerInterval,
			Logger:   a.logger,
		})
		if err := sched.RecoverMissed(ctx); err != nil {
			a.logger.Warn("missed job recovery failed", "error", err)
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()

		deps.Store = a.store
		deps.Timeline = a.eventLog
		deps.Scheduler = sched
	} else {
		a.logger.Info("run history disabled; scheduler and history tools unavailable")
	}

	srv := mcp.NewDataflowServer(deps)
	if transport == "stdio" {
		a.logger.Info("serving MCP over stdio")
		return srv.Serve(ctx)
	}

	httpSrv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           srv.SSEHandler(a.cfg.BaseURL),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving MCP over SSE", "addr", a.cfg.ListenAddr, "base_url", a.cfg.BaseURL)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
