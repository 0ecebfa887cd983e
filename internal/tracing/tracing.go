// Package tracing brackets Client.Call and handler dispatch with
// OpenTelemetry spans, grounded on marmos91-dittofs's internal/telemetry
// but deliberately thin: this module ships no exporter or SDK wiring of its
// own (go.mod pulls in only go.opentelemetry.io/otel's API surface, not the
// SDK), so a caller who wants real export configures the global
// TracerProvider themselves via otel.SetTracerProvider before constructing
// a Client or Server. Absent that, otel's default global provider is a
// no-op and every span here costs nothing beyond the call itself.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/behrlich/rdma-rpc"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartCall opens a span around a caller's Call, tagging it with the
// connection and rpc_id dimensions a trace backend would want to filter on.
func StartCall(ctx context.Context, connID uint16, rpcID uint32) (context.Context, trace.Span) {
	return tracer().Start(ctx, "rdmarpc.Call",
		trace.WithAttributes(
			attribute.Int64("rdmarpc.conn_id", int64(connID)),
			attribute.Int64("rdmarpc.rpc_id", int64(rpcID)),
		),
	)
}

// StartDispatch opens a span around a handler's invocation on the server
// side.
func StartDispatch(ctx context.Context, connID uint16, rpcID uint32) (context.Context, trace.Span) {
	return tracer().Start(ctx, "rdmarpc.Dispatch",
		trace.WithAttributes(
			attribute.Int64("rdmarpc.conn_id", int64(connID)),
			attribute.Int64("rdmarpc.rpc_id", int64(rpcID)),
		),
	)
}

// End records the outcome of a span opened by StartCall/StartDispatch and
// closes it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
