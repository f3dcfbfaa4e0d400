package mcp

import (
	"context"
	"errors"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/dataflow/internal/streaming"
	"github.com/rendis/dataflow/pkg/schema"
)

const progressLogger = "dataflow.progress"

// ProgressSink delivers run events to the client that started the run.
type ProgressSink interface {
	Send(ctx context.Context, clientID string, ev streaming.StreamEvent) error
}

// sessionSink pushes run events as MCP logging notifications. A client is
// bound to its current session when it calls dataflow.run with a client_id;
// the binding is dropped when the session unregisters.
type sessionSink struct {
	srv *server.MCPServer

	mu       sync.RWMutex
	sessions map[string]string // client ID -> session ID
}

func newSessionSink(srv *server.MCPServer) *sessionSink {
	return &sessionSink{srv: srv, sessions: make(map[string]string)}
}

// bind maps clientID to sessionID, replacing an earlier session.
func (s *sessionSink) bind(clientID, sessionID string) {
	s.mu.Lock()
	s.sessions[clientID] = sessionID
	s.mu.Unlock()
}

func (s *sessionSink) session(clientID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sid, ok := s.sessions[clientID]
	return sid, ok
}

// drop forgets every client bound to sessionID.
func (s *sessionSink) drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cid, sid := range s.sessions {
		if sid == sessionID {
			delete(s.sessions, cid)
		}
	}
}

// Send is best-effort: an unbound client or a session that vanished between
// lookup and send is not an error.
func (s *sessionSink) Send(_ context.Context, clientID string, ev streaming.StreamEvent) error {
	sessionID, ok := s.session(clientID)
	if !ok {
		return nil
	}
	err := s.srv.SendNotificationToSpecificClient(sessionID, "notifications/message", progressMessage(ev))
	if errors.Is(err, server.ErrSessionNotFound) {
		s.drop(sessionID)
		return nil
	}
	return err
}

// progressMessage shapes an event as notifications/message params.
func progressMessage(ev streaming.StreamEvent) map[string]any {
	data := map[string]any{
		"execution_id": ev.ExecutionID,
		"event_type":   ev.EventType,
		"timestamp":    ev.Timestamp,
	}
	if ev.NodeID != "" {
		data["node_id"] = ev.NodeID
	}
	if ev.Payload != nil {
		data["payload"] = ev.Payload
	}
	return map[string]any{
		"level":  eventLevel(ev.EventType),
		"logger": progressLogger,
		"data":   data,
	}
}

func eventLevel(eventType string) mcp.LoggingLevel {
	switch eventType {
	case schema.EventNodeFailed, schema.EventExecutionFailed:
		return mcp.LoggingLevelError
	case schema.EventNodeWarning, schema.EventNodeSkipped, schema.EventExecutionAborted,
		schema.EventCircuitBreakerOpen:
		return mcp.LoggingLevelWarning
	}
	return mcp.LoggingLevelInfo
}
