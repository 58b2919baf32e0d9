// Package telemetry exposes the process-wide tracer and meter. Only the
// OpenTelemetry API is wired here; exporters are configured by the
// embedding process through the global providers.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/capiware/capi-orchestrator"

// Tracer returns the orchestrator tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the orchestrator meter.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
