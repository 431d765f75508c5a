// Package telemetry sets up OpenTelemetry export for the sentry binaries and
// records the pipeline's domain metrics.
//
//	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
//	    ServiceName:  "stl-sentry-executor",
//	    OTLPEndpoint: "localhost:4317",
//	})
//	defer shutdown(context.Background())
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config selects where spans and metrics go.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the collector's gRPC address. Spans and metrics share
	// one connection to it.
	OTLPEndpoint string

	// StdoutWriter receives pretty-printed spans when OTLPEndpoint is empty.
	// Metrics have no stdout fallback.
	StdoutWriter io.Writer

	// SampleRate in [0,1]. Negative disables sampling.
	SampleRate float64

	MetricInterval time.Duration
}

// ConfigDefaults returns the default telemetry configuration.
func ConfigDefaults() Config {
	return Config{
		ServiceName:    "stl-sentry",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
		MetricInterval: 15 * time.Second,
	}
}

// Shutdown flushes and stops whatever Setup installed.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs the global tracer and meter providers described by cfg.
// With neither an endpoint nor a stdout writer the globals stay no-op.
func Setup(ctx context.Context, cfg Config) (Shutdown, error) {
	defaults := ConfigDefaults()
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaults.ServiceName
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = defaults.ServiceVersion
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = defaults.MetricInterval
	}

	if cfg.OTLPEndpoint == "" && cfg.StdoutWriter == nil {
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	if cfg.OTLPEndpoint == "" {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.StdoutWriter), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return installTracer(exporter, res, cfg.SampleRate), nil
	}

	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing collector %s: %w", cfg.OTLPEndpoint, err)
	}

	spanExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating OTLP span exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}

	stopTracer := installTracer(spanExporter, res, cfg.SampleRate)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(cfg.MetricInterval))),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		// Providers flush through conn, so it closes last.
		return errors.Join(mp.Shutdown(ctx), stopTracer(ctx), conn.Close())
	}, nil
}

func installTracer(exporter sdktrace.SpanExporter, res *resource.Resource, rate float64) Shutdown {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(rate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate < 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}
