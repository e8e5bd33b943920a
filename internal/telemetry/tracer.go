// Package telemetry configures OpenTelemetry tracing for the binaries.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

// Exporter kinds accepted by InitTracer.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// InitTracer installs a global tracer provider for serviceName and returns
// its shutdown function. With ExporterNone the global no-op provider is left
// in place.
func InitTracer(serviceName, exporter string, w io.Writer, logger *zap.Logger) (func(context.Context) error, error) {
	switch exporter {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized",
		zap.String("service", serviceName),
		zap.String("exporter", exporter),
	)
	return tp.Shutdown, nil
}
