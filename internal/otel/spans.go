package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for kora-rent spans.
var (
	AttrNetwork       = attribute.Key("kora_rent.network")
	AttrOperator      = attribute.Key("kora_rent.operator_pubkey")
	AttrAccountPubkey = attribute.Key("kora_rent.account_pubkey")
	AttrRunID         = attribute.Key("kora_rent.run_id")
	AttrBatchSize     = attribute.Key("kora_rent.batch_size")
	AttrDryRun        = attribute.Key("kora_rent.dry_run")
)

// StartSpan is a convenience wrapper that starts an internal span for a
// pipeline-stage run (e.g. "indexer.scan", "policy.evaluate").
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound chain RPC call.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
