package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/dataflow/internal/logging"
	"github.com/rendis/dataflow/internal/streaming"
	"github.com/rendis/dataflow/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s, logging.Discard()), s
}

func TestEventLog_AppendEvent_MonotonicSequence(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	for i := 0; i < 5; i++ {
		e := &Event{RunID: runID, NodeID: "n1", Type: schema.EventNodeProcessing}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
	}
}

func TestEventLog_GetEvents(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	for _, et := range []string{schema.EventNodeProcessing, schema.EventNodeSucceeded, schema.EventNodeInvalidated} {
		require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n1", Type: et}))
	}

	events, err := el.GetEvents(ctx, runID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = el.GetEvents(ctx, runID, 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
}

func TestEventLog_GetEventsByType(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n1", Type: schema.EventNodeProcessing}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n1", Type: schema.EventNodeSucceeded}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n2", Type: schema.EventNodeProcessing}))

	events, err := el.GetEventsByType(ctx, schema.EventNodeProcessing, EventFilter{RunID: runID})
	require.NoError(t, err)
	assert.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, schema.EventNodeProcessing, e.Type)
	}
}

func TestEventLog_ReplayEvents_FullLifecycle(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()
	now := time.Now().UTC()

	// n1: processing -> succeeded
	require.NoError(t, el.AppendEvent(ctx, &Event{
		RunID: runID, NodeID: "n1", Type: schema.EventNodeProcessing, Timestamp: now,
	}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		RunID: runID, NodeID: "n1", Type: schema.EventNodeSucceeded,
		Payload:   json.RawMessage(`{"rows":3}`),
		Timestamp: now.Add(100 * time.Millisecond),
	}))

	// n2: processing -> failed
	require.NoError(t, el.AppendEvent(ctx, &Event{
		RunID: runID, NodeID: "n2", Type: schema.EventNodeProcessing, Timestamp: now,
	}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		RunID: runID, NodeID: "n2", Type: schema.EventNodeFailed,
		Payload:   json.RawMessage(`{"error":"timeout"}`),
		Timestamp: now.Add(200 * time.Millisecond),
	}))

	// Run-level events carry no node and are ignored.
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, Type: schema.EventExecutionFailed}))

	states, err := el.ReplayEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, states, 2)

	assert.Equal(t, schema.NodeStatusSuccess, states["n1"].Status)
	assert.NotNil(t, states["n1"].StartedAt)
	assert.NotNil(t, states["n1"].CompletedAt)
	assert.Equal(t, int64(100), states["n1"].DurationMs)
	assert.JSONEq(t, `{"rows":3}`, string(states["n1"].Detail))

	assert.Equal(t, schema.NodeStatusError, states["n2"].Status)
	assert.JSONEq(t, `{"error":"timeout"}`, string(states["n2"].Detail))
}

func TestEventLog_ReplayEvents_Warning(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n1", Type: schema.EventNodeProcessing}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n1", Type: schema.EventNodeWarning}))

	states, err := el.ReplayEvents(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, schema.NodeStatusWarning, states["n1"].Status)
}

func TestEventLog_ReplayEvents_Skipped(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n2", Type: schema.EventNodeSkipped}))

	states, err := el.ReplayEvents(ctx, runID)
	require.NoError(t, err)
	assert.True(t, states["n2"].Skipped)
	assert.Equal(t, schema.NodeStatusIdle, states["n2"].Status)
}

func TestEventLog_ReplayEvents_Invalidated(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n1", Type: schema.EventNodeProcessing}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n1", Type: schema.EventNodeSucceeded}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: runID, NodeID: "n1", Type: schema.EventNodeInvalidated}))

	states, err := el.ReplayEvents(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, schema.NodeStatusIdle, states["n1"].Status)
	assert.Nil(t, states["n1"].StartedAt)
	assert.Nil(t, states["n1"].CompletedAt)
}

func TestEventLog_ReplayEvents_EmptyRun(t *testing.T) {
	el, _ := newTestEventLog(t)

	states, err := el.ReplayEvents(context.Background(), "no-events")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestEventLog_ReplayEvents_SequenceGap(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	runID := uuid.New().String()

	db := s.DB()
	_, err := db.ExecContext(ctx,
		`INSERT INTO events (run_id, node_id, event_type, timestamp, sequence) VALUES (?, 'n1', 'node_processing', CURRENT_TIMESTAMP, 1)`,
		runID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO events (run_id, node_id, event_type, timestamp, sequence) VALUES (?, 'n1', 'node_succeeded', CURRENT_TIMESTAMP, 3)`,
		runID)
	require.NoError(t, err)

	_, err = el.ReplayEvents(ctx, runID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
	assert.Equal(t, schema.ErrCodeStore, schema.ErrorCode(err))
}

func TestEventLog_ConcurrentAppend_DifferentRuns(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()

	var runs []string
	for i := 0; i < 5; i++ {
		runs = append(runs, uuid.New().String())
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 50)

	for _, runID := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				e := &Event{RunID: runID, NodeID: "n1", Type: schema.EventNodeProcessing}
				if err := el.AppendEvent(ctx, e); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent append error: %v", err)
	}

	for _, runID := range runs {
		events, err := el.GetEvents(ctx, runID, 0)
		require.NoError(t, err)
		assert.Len(t, events, 10)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	}
}

func TestEventLog_RunScopedSequences(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	run1, run2 := uuid.New().String(), uuid.New().String()

	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run1, NodeID: "n1", Type: schema.EventNodeProcessing}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run1, NodeID: "n1", Type: schema.EventNodeSucceeded}))

	e := &Event{RunID: run2, NodeID: "n1", Type: schema.EventNodeProcessing}
	require.NoError(t, el.AppendEvent(ctx, e))
	assert.Equal(t, int64(1), e.Sequence, "run2 should have its own sequence starting at 1")
}

func TestEventLog_Record(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()
	hub := streaming.NewMemoryHub(16)

	stop, err := el.Record(ctx, hub, streaming.EventFilter{ExecutionID: "exec-1"})
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{
		ExecutionID: "exec-1", EventType: schema.EventExecutionStarted,
	}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{
		ExecutionID: "exec-1", NodeID: "filter-1", EventType: schema.EventNodeSucceeded,
		Payload: map[string]any{"rows": 2},
	}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{
		ExecutionID: "exec-2", EventType: schema.EventExecutionStarted,
	}))

	stop()
	stop()

	events, err := el.GetEvents(ctx, "exec-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventExecutionStarted, events[0].Type)
	assert.Equal(t, "filter-1", events[1].NodeID)
	assert.JSONEq(t, `{"rows":2}`, string(events[1].Payload))

	others, err := el.GetEvents(ctx, "exec-2", 0)
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestFromStreamEvent_UnmarshalablePayload(t *testing.T) {
	ev, err := FromStreamEvent(streaming.StreamEvent{
		ExecutionID: "exec-1", EventType: schema.EventNodeFailed, Payload: make(chan int),
	})
	require.Error(t, err)
	assert.Equal(t, "exec-1", ev.RunID)
	assert.Nil(t, ev.Payload)
}
