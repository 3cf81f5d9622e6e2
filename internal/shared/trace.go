package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type runIDKey struct{}

// WithTraceID attaches a trace_id to the context, propagated through a
// pipeline-stage run so every log line and span can be correlated.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithRunID attaches a run_id to the context: one value per invocation of a
// pipeline stage (Indexer run, Lifecycle run, Reclaimer run, ...), used to
// correlate ledger writes, audit entries, and otel spans for that run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID extracts run_id from context. Returns "" if absent.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// NewRunID generates a new run_id.
func NewRunID() string {
	return uuid.NewString()
}

// NewWorkerID generates a worker identity for a Reclaimer Fetch-and-Lock
// call, spec.md §4.6: processing_lock is stamped with "a worker id."
func NewWorkerID() string {
	return uuid.NewString()
}
