package logging

import (
	"context"
	"log/slog"
)

// Correlation ties a log record to the run and node that produced it.
type Correlation struct {
	ExecutionID string
	Pipeline    string
	NodeID      string
	NodeType    string
}

func (c Correlation) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 4)
	for _, kv := range [...][2]string{
		{"execution_id", c.ExecutionID},
		{"pipeline", c.Pipeline},
		{"node_id", c.NodeID},
		{"node_type", c.NodeType},
	} {
		if kv[1] != "" {
			attrs = append(attrs, slog.String(kv[0], kv[1]))
		}
	}
	return attrs
}

type correlationKey struct{}

// WithCorrelation layers the non-empty fields of c over the correlation
// already carried by ctx, so a node context keeps its run's pipeline name.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	cur := CorrelationFrom(ctx)
	if c.ExecutionID != "" {
		cur.ExecutionID = c.ExecutionID
	}
	if c.Pipeline != "" {
		cur.Pipeline = c.Pipeline
	}
	if c.NodeID != "" {
		cur.NodeID = c.NodeID
	}
	if c.NodeType != "" {
		cur.NodeType = c.NodeType
	}
	return context.WithValue(ctx, correlationKey{}, cur)
}

// CorrelationFrom returns the correlation on ctx; the zero value if none.
func CorrelationFrom(ctx context.Context) Correlation {
	c, _ := ctx.Value(correlationKey{}).(Correlation)
	return c
}

func WithExecutionID(ctx context.Context, id string) context.Context {
	return WithCorrelation(ctx, Correlation{ExecutionID: id})
}

// WithIDs tags ctx with a node of a run.
func WithIDs(ctx context.Context, executionID, nodeID, nodeType string) context.Context {
	return WithCorrelation(ctx, Correlation{ExecutionID: executionID, NodeID: nodeID, NodeType: nodeType})
}

// CorrelationHandler wraps an slog.Handler and appends the context's
// correlation to every record, so engine code logs with
// logger.InfoContext(ctx, ...) and never threads IDs by hand.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(CorrelationFrom(ctx).attrs()...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
