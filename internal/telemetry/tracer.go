package telemetry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	// SampleRatio is the fraction of root spans kept, in [0, 1].
	SampleRatio float64
}

// Tracer returns the tracer used by the pipelines.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// InitTracer installs an SDK tracer provider exporting over OTLP gRPC. When
// tracing is disabled the global no-op provider stays in place and the
// returned shutdown does nothing.
func InitTracer(ctx context.Context, cfg Config, log logrus.FieldLogger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	log.WithFields(logrus.Fields{
		"endpoint": cfg.OTLPEndpoint,
		"service":  cfg.ServiceName,
	}).Info("OpenTelemetry tracer initialized")

	return tp.Shutdown, nil
}
