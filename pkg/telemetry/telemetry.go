// Package telemetry wires OpenTelemetry tracing through the compile and
// verify call paths. It is intentionally decoupled from any
// particular exporter: callers that want traces shipped somewhere real
// configure a TracerProvider (typically via otlptracegrpc) in main() and
// call SetTracerProvider once at startup; everything else in this repo
// just asks otel.Tracer for a tracer and no-ops if nothing was configured.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BigBirdReturns/axm-core"

// Tracer is the tracer every package in this module starts spans from.
// With no TracerProvider configured, otel's global no-op implementation
// is used, so calling this in a test or a short-lived CLI invocation
// costs nothing.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the meter registered under this module's instrumentation
// name. No package in this module records instruments against it.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// StartSpan starts a span named op under Tracer, tagging it with
// key/value attribute pairs (an even-length list of string, string).
func StartSpan(ctx context.Context, op string, kv ...string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return Tracer().Start(ctx, op, trace.WithAttributes(attrs...))
}
