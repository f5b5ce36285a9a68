package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const instrumentationName = "docqa"

// Metrics holds the application instruments. A nil *Metrics records nothing.
type Metrics struct {
	IngestRuns     metric.Int64Counter
	IngestDuration metric.Float64Histogram
	ChunksEmbedded metric.Int64Counter
	QueryDuration  metric.Float64Histogram
	ProviderErrors metric.Int64Counter
}

// InitMeterProvider installs an SDK meter provider that pushes to the OTLP
// gRPC endpoint every exportInterval. Disabled telemetry leaves the global
// no-op provider in place.
func InitMeterProvider(ctx context.Context, cfg Config, log logrus.FieldLogger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	log.WithField("endpoint", cfg.OTLPEndpoint).Info("OpenTelemetry meter provider initialized")
	return mp.Shutdown, nil
}

const exportInterval = 15 * time.Second

// InitMetrics creates the instruments from the global meter provider.
func InitMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(instrumentationName))
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	ingestRuns, err := meter.Int64Counter(
		"docqa.ingest.runs",
		metric.WithDescription("Ingestion runs by final state"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"docqa.ingest.duration",
		metric.WithDescription("Ingestion run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksEmbedded, err := meter.Int64Counter(
		"docqa.chunks.embedded",
		metric.WithDescription("Chunks embedded during ingestion"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"docqa.query.duration",
		metric.WithDescription("Question answering duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	providerErrors, err := meter.Int64Counter(
		"docqa.provider.errors",
		metric.WithDescription("Failed calls to embedding and generative providers"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		IngestRuns:     ingestRuns,
		IngestDuration: ingestDuration,
		ChunksEmbedded: chunksEmbedded,
		QueryDuration:  queryDuration,
		ProviderErrors: providerErrors,
	}, nil
}

// RecordIngest records a finished ingestion run.
func (m *Metrics) RecordIngest(ctx context.Context, collection, state string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("state", state),
	)
	m.IngestRuns.Add(ctx, 1, attrs)
	m.IngestDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) RecordChunksEmbedded(ctx context.Context, provider string, n int) {
	if m == nil {
		return
	}
	m.ChunksEmbedded.Add(ctx, int64(n), metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordQuery records one AnswerQuestion call.
func (m *Metrics) RecordQuery(ctx context.Context, collection string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.QueryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.Bool("success", success),
	))
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider string, transient bool) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("transient", transient),
	))
}
