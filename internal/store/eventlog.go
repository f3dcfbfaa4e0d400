package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/dataflow/internal/streaming"
	"github.com/rendis/dataflow/pkg/schema"
)

// EventLog provides run-scoped event sourcing on top of a LibSQLStore.
type EventLog struct {
	store  *LibSQLStore
	logger *slog.Logger
}

// NewEventLog wraps a LibSQLStore. A nil logger falls back to slog.Default.
func NewEventLog(s *LibSQLStore, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{store: s, logger: logger}
}

// AppendEvent appends an event with a monotonically increasing per-run sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := el.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx starts a deferred transaction; a write forces the
	// lock before the sequence is read.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// Record subscribes to hub and appends every matching stream event to the
// log until ctx ends or stop is called. stop returns once all events already
// delivered to the subscription have been written.
func (el *EventLog) Record(ctx context.Context, hub streaming.EventHub, filter streaming.EventFilter) (stop func(), err error) {
	ch, cancel, err := hub.Subscribe(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	writeCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for se := range ch {
			ev, err := FromStreamEvent(se)
			if err != nil {
				el.logger.Warn("event payload not recorded", "event_type", se.EventType, "error", err)
			}
			if err := el.AppendEvent(writeCtx, ev); err != nil {
				el.logger.Error("append event failed",
					"execution_id", se.ExecutionID, "event_type", se.EventType, "error", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

// FromStreamEvent converts a stream event into a log entry. A payload that
// cannot be marshaled is dropped and reported alongside the event.
func FromStreamEvent(se streaming.StreamEvent) (*Event, error) {
	ev := &Event{
		RunID:     se.ExecutionID,
		NodeID:    se.NodeID,
		Type:      se.EventType,
		Timestamp: se.Timestamp,
	}
	if se.Payload == nil {
		return ev, nil
	}
	b, err := json.Marshal(se.Payload)
	if err != nil {
		return ev, err
	}
	ev.Payload = b
	return ev, nil
}

// NodeTimeline is the state of one node reconstructed from a run's events.
type NodeTimeline struct {
	NodeID      string            `json:"node_id"`
	Status      schema.NodeStatus `json:"status"`
	Skipped     bool              `json:"skipped,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
	Detail      json.RawMessage   `json:"detail,omitempty"`
}

// ReplayEvents replays all events for a run and returns the reconstructed
// node states. Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*NodeTimeline, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	states := make(map[string]*NodeTimeline)
	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		nt, ok := states[e.NodeID]
		if !ok {
			nt = &NodeTimeline{NodeID: e.NodeID, Status: schema.NodeStatusIdle}
			states[e.NodeID] = nt
		}

		switch e.Type {
		case schema.EventNodeProcessing:
			ts := e.Timestamp
			*nt = NodeTimeline{NodeID: e.NodeID, Status: schema.NodeStatusProcessing, StartedAt: &ts}

		case schema.EventNodeSucceeded, schema.EventNodeWarning, schema.EventNodeFailed:
			nt.Status = terminalStatus(e.Type)
			ts := e.Timestamp
			nt.CompletedAt = &ts
			nt.Detail = e.Payload
			if nt.StartedAt != nil {
				nt.DurationMs = ts.Sub(*nt.StartedAt).Milliseconds()
			}

		case schema.EventNodeSkipped:
			nt.Skipped = true

		case schema.EventNodeInvalidated:
			*nt = NodeTimeline{NodeID: e.NodeID, Status: schema.NodeStatusIdle}
		}
	}
	return states, nil
}

func terminalStatus(eventType string) schema.NodeStatus {
	switch eventType {
	case schema.EventNodeSucceeded:
		return schema.NodeStatusSuccess
	case schema.EventNodeWarning:
		return schema.NodeStatusWarning
	default:
		return schema.NodeStatusError
	}
}
