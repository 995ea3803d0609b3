package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	otelsemconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
	// Endpoint is an OTLP/gRPC collector address. Empty writes spans to
	// Writer as pretty JSON.
	Endpoint string    `yaml:"endpoint" json:"endpoint"`
	Writer   io.Writer `yaml:"-" json:"-"`
}

// SetupTracerProvider installs the global tracer provider and returns its
// shutdown function. Disabled tracing leaves the no-op provider in place.
func SetupTracerProvider(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "praxis-engine"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			otelsemconv.SchemaURL,
			otelsemconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if strings.TrimSpace(cfg.Endpoint) == "" {
		var w io.Writer = os.Stderr
		if cfg.Writer != nil {
			w = cfg.Writer
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
	} else {
		clean := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(clean),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
