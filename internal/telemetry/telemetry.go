// Package telemetry records scan progress as OpenTelemetry metrics. Without an
// endpoint it records into a no-op provider.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/scanlha/internal/version"
)

const serviceName = "scanlha"

// Config selects the metrics exporter.
type Config struct {
	// Endpoint is the OTLP/gRPC collector address. Empty disables export.
	Endpoint string        `yaml:"endpoint"`
	Insecure bool          `yaml:"insecure"`
	Interval time.Duration `yaml:"interval"`
}

// Recorder records point and scan metrics. The zero value and a nil
// *Recorder are usable and record nothing.
type Recorder struct {
	points   metric.Int64Counter
	duration metric.Float64Histogram
	scans    metric.Int64Counter
	shutdown func(context.Context) error
}

// Noop returns a Recorder backed by the no-op provider.
func Noop() *Recorder {
	r, err := NewRecorder(noop.NewMeterProvider())
	if err != nil {
		return &Recorder{}
	}
	return r
}

// NewRecorder creates the instruments on mp.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	meter := mp.Meter(serviceName)

	points, err := meter.Int64Counter(
		"scanlha_points_total",
		metric.WithDescription("Scan points executed, by outcome"),
		metric.WithUnit("{point}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating points counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"scanlha_point_duration_seconds",
		metric.WithDescription("Wall time of one scan point"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	scans, err := meter.Int64Counter(
		"scanlha_scans_total",
		metric.WithDescription("Completed scans"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scans counter: %w", err)
	}

	return &Recorder{points: points, duration: duration, scans: scans}, nil
}

// Setup returns a Recorder exporting to cfg.Endpoint over OTLP/gRPC, or a
// no-op Recorder when no endpoint is configured.
func Setup(ctx context.Context, cfg Config) (*Recorder, error) {
	if cfg.Endpoint == "" {
		return Noop(), nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlpmetricgrpc.WithInsecure(),
		)
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	r, err := NewRecorder(provider)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	r.shutdown = provider.Shutdown
	return r, nil
}

// Point records one executed point.
func (r *Recorder) Point(ctx context.Context, outcome string, d time.Duration) {
	if r == nil || r.points == nil {
		return
	}
	opt := metric.WithAttributes(attribute.String("outcome", outcome))
	r.points.Add(ctx, 1, opt)
	r.duration.Record(ctx, d.Seconds(), opt)
}

// Scan records a finished scan.
func (r *Recorder) Scan(ctx context.Context, mode string, failed bool) {
	if r == nil || r.scans == nil {
		return
	}
	r.scans.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("failed", failed),
	))
}

// Shutdown flushes pending metrics.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r == nil || r.shutdown == nil {
		return nil
	}
	return r.shutdown(ctx)
}
