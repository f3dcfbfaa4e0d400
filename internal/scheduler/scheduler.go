package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/dataflow/internal/engine"
	"github.com/rendis/dataflow/internal/store"
	"github.com/rendis/dataflow/pkg/schema"
)

// DefaultInterval is how often the store is polled for due jobs.
const DefaultInterval = time.Minute

// Last-run statuses recorded on a job.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PipelineRunner is what the scheduler uses to run pipelines.
// Satisfied by *engine.Engine.
type PipelineRunner interface {
	ExecutePipeline(ctx context.Context, p *schema.Pipeline) (*engine.ExecutionResult, error)
}

// Job describes a new scheduled pipeline run.
type Job struct {
	Name     string
	Cron     string
	Pipeline *schema.Pipeline
	// Disabled jobs are stored but never run until enabled.
	Disabled bool
}

// Options tunes a Scheduler. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Scheduler polls the store for due scheduled jobs and runs them.
type Scheduler struct {
	store    store.Store
	runner   PipelineRunner
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, runner PipelineRunner, opts Options) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

// Add validates and stores a job, computing its first run time.
func (s *Scheduler) Add(ctx context.Context, job Job) (*store.ScheduledJob, error) {
	if strings.TrimSpace(job.Cron) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "cron expression is required")
	}
	if job.Pipeline == nil || len(job.Pipeline.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduled pipeline has no nodes")
	}

	now := s.now()
	next, err := s.CalculateNextRun(job.Cron, now)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	doc, err := json.Marshal(job.Pipeline)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize pipeline").WithCause(err)
	}

	name := job.Name
	if name == "" {
		name = job.Pipeline.Name
	}
	sj := &store.ScheduledJob{
		ID:             uuid.New().String(),
		Name:           name,
		CronExpression: job.Cron,
		Pipeline:       doc,
		Enabled:        !job.Disabled,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if err := s.store.CreateScheduledJob(ctx, sj); err != nil {
		return nil, err
	}

	s.logger.Info("scheduled job added",
		slog.String("job_id", sj.ID),
		slog.String("name", sj.Name),
		slog.String("cron", sj.CronExpression),
		slog.Time("next_run_at", next),
	)
	return sj, nil
}

// Remove deletes a job. A run already in flight is not interrupted.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	if err := s.store.DeleteScheduledJob(ctx, id); err != nil {
		return err
	}
	s.logger.Info("scheduled job removed", slog.String("job_id", id))
	return nil
}

// List returns stored jobs, enabled or not.
func (s *Scheduler) List(ctx context.Context) ([]*store.ScheduledJob, error) {
	return s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{})
}

// SetEnabled pauses or resumes a job. Resuming recomputes the next run so a
// long pause does not trigger an immediate catch-up run.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	job, err := s.store.GetScheduledJob(ctx, id)
	if err != nil {
		return err
	}
	update := store.ScheduledJobUpdate{Enabled: &enabled}
	if enabled {
		next, err := s.CalculateNextRun(job.CronExpression, s.now())
		if err != nil {
			return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
		}
		update.NextRunAt = &next
	}
	return s.store.UpdateScheduledJob(ctx, id, update)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled job that is due. Due jobs run concurrently; a job
// whose previous run is still in flight is skipped.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := s.now()
	var wg sync.WaitGroup
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			s.logger.Debug("scheduled job still running", slog.String("job_id", job.ID))
			continue
		}
		wg.Add(1)
		go func(job *store.ScheduledJob) {
			defer wg.Done()
			defer s.releaseJob(job.ID)
			if err := s.runJob(ctx, job, now); err != nil {
				s.logger.Error("failed to run scheduled job",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
		}(job)
	}
	wg.Wait()
}

// runJob executes a scheduled job and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("name", job.Name),
	)

	var p schema.Pipeline
	if err := json.Unmarshal(job.Pipeline, &p); err != nil {
		s.logger.Error("scheduled job has an unreadable pipeline",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return s.updateJobStatus(ctx, job, now, StatusError, "")
	}
	if p.Name == "" {
		p.Name = job.Name
	}

	res, err := s.runner.ExecutePipeline(ctx, &p)
	status := StatusSuccess
	runID := ""
	switch {
	case err != nil:
		status = StatusError
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	case !res.Success:
		status = StatusError
		runID = res.ExecutionID
		s.logger.Warn("scheduled pipeline did not complete",
			slog.String("job_id", job.ID),
			slog.String("execution_id", res.ExecutionID),
			slog.String("state", string(res.State)),
		)
	default:
		runID = res.ExecutionID
	}

	return s.updateJobStatus(ctx, job, now, status, runID)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledJob, now time.Time, status, runID string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledJob(context.WithoutCancel(ctx), job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
		LastRunID:     runID,
	})
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler, waiting for the current tick.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs once every enabled job whose next run passed while the
// scheduler was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := s.now()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		err := s.runJob(ctx, job, now)
		s.releaseJob(job.ID)
		if err != nil {
			s.logger.Error("failed to recover missed job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return nil
}
