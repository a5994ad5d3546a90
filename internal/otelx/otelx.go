// Package otelx wraps OpenTelemetry tracing setup and span helpers for the
// Scheduler/Reconciler/Ingestor transactions. Tracing is a no-op whenever no
// OTLP endpoint is configured: spans are additive, never load-bearing.
package otelx

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const tracerName = "cipherswarm-coordinator"

// ShutdownFunc flushes and tears down the tracer provider.
type ShutdownFunc func(context.Context) error

// noopShutdown satisfies ShutdownFunc when tracing isn't configured.
func noopShutdown(context.Context) error { return nil }

// Init configures the global tracer provider to export spans via OTLP gRPC
// to endpoint. An empty endpoint leaves the global no-op tracer provider in
// place, so Span below becomes a zero-cost no-op.
func Init(ctx context.Context, endpoint, serviceName string) ShutdownFunc {
	if endpoint == "" {
		return noopShutdown
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		slog.Warn("otel exporter init failed, tracing disabled", "error", err, "endpoint", endpoint)
		return noopShutdown
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		slog.Warn("otel resource merge failed, using default resource", "error", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("otel tracer initialized", "endpoint", endpoint, "service", serviceName)
	return tp.Shutdown
}

// Span starts a span named name under the global tracer and returns a ctx
// carrying it plus an end func. Call sites wrap a Scheduler/Reconciler/
// Ingestor transaction body:
//
//	ctx, end := otelx.Span(ctx, "scheduler.replan")
//	defer end()
func Span(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	return ctx, func() { span.End() }
}

// SpanErr is Span's sibling for call sites that want to record the
// operation's error on the span before ending it.
func SpanErr(ctx context.Context, name string) (context.Context, func(err error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Flush shuts down the tracer provider, bounded by a short timeout so a
// stuck exporter never blocks process shutdown.
func Flush(ctx context.Context, shutdown ShutdownFunc) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("otel tracer shutdown failed", "error", err)
	}
}
