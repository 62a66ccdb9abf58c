// Package tracing wires the OpenTelemetry SDK for the governance
// kernel, grounded on the orchestrator's tracing.Initialize shape but
// using the stdout exporters already pinned in go.mod rather than an
// OTLP collector endpoint, since the kernel has no such collector to
// talk to out of the box.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config controls whether tracing/metrics are wired and the service
// name they report; an enabled provider's stdout exporter always
// writes to w.
type Config struct {
	TracingEnabled bool
	MetricsEnabled bool
	ServiceName    string
}

// Shutdown flushes and stops every provider Initialize started.
type Shutdown func(context.Context) error

// Initialize sets the global TracerProvider and MeterProvider per cfg.
// When neither tracing nor metrics are enabled, it installs the otel
// no-op providers implicitly (by doing nothing — otel already defaults
// to no-ops) and returns a no-op Shutdown.
func Initialize(ctx context.Context, cfg Config, w io.Writer) (Shutdown, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "governed"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	var shutdowns []Shutdown

	if cfg.TracingEnabled {
		traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("building stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	if cfg.MetricsEnabled {
		metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("building stdout metric exporter: %w", err)
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(metric.NewPeriodicReader(metricExporter)),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return func(ctx context.Context) error {
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil {
				return err
			}
		}
		return nil
	}, nil
}
