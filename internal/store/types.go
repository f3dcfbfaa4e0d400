package store

import (
	"encoding/json"
	"time"
)

// Run is the persisted record of one pipeline execution.
type Run struct {
	ID             string     `json:"id"`
	Pipeline       string     `json:"pipeline,omitempty"`
	Status         string     `json:"status"`
	TotalNodes     int        `json:"total_nodes"`
	CompletedNodes int        `json:"completed_nodes"`
	FailedNodes    int        `json:"failed_nodes"`
	SkippedNodes   int        `json:"skipped_nodes"`
	DurationMs     int64      `json:"duration_ms"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Nodes          []*NodeRun `json:"nodes,omitempty"`
}

// NodeRun is the persisted outcome of one node within a run.
type NodeRun struct {
	RunID       string   `json:"run_id"`
	NodeID      string   `json:"node_id"`
	NodeType    string   `json:"node_type"`
	Status      string   `json:"status"`
	RowCount    int      `json:"row_count"`
	ColumnCount int      `json:"column_count"`
	ErrorCode   string   `json:"error_code,omitempty"`
	Error       string   `json:"error,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	DurationMs  int64    `json:"duration_ms"`
}

// Event is an immutable entry in a run's event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ScheduledJob is a cron-triggered pipeline execution.
type ScheduledJob struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	CronExpression string          `json:"cron_expression"`
	Pipeline       json.RawMessage `json:"pipeline"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	LastRunID      string          `json:"last_run_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Pipeline string     `json:"pipeline,omitempty"`
	Status   string     `json:"status,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	Offset   int        `json:"offset,omitempty"`
}

// EventFilter specifies criteria for querying events across runs.
type EventFilter struct {
	RunID string     `json:"run_id,omitempty"`
	Since *time.Time `json:"since,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	LastRunID     string     `json:"last_run_id,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
