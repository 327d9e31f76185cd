package observe

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is reported when [TelemetryConfig.ServiceName] is empty.
const DefaultServiceName = "prophet"

// TelemetryConfig describes the process to the OpenTelemetry SDK.
type TelemetryConfig struct {
	ServiceName string

	// Version defaults to [BuildVersion].
	Version string

	// Sampler decides which root traces are kept. Nil keeps all of them.
	Sampler sdktrace.Sampler

	// SpanExporter receives sampled spans. Without one, spans only feed
	// correlation IDs and are dropped when they end.
	SpanExporter sdktrace.SpanExporter

	// Registerer receives the metric collector. Defaults to
	// [prometheus.DefaultRegisterer], which promhttp.Handler gathers.
	Registerer prometheus.Registerer
}

// Telemetry owns the SDK providers installed by [Setup].
type Telemetry struct {
	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// Setup builds the meter and tracer providers for a prophet process and
// installs them as the OTel globals, so [DefaultMetrics] and [StartSpan] pick
// them up. Metrics are exported through the Prometheus registry that
// promhttp serves on /metrics.
//
// Call Setup before the first use of [DefaultMetrics].
func Setup(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.Version == "" {
		cfg.Version = BuildVersion()
	}
	if cfg.Sampler == nil {
		cfg.Sampler = sdktrace.AlwaysSample()
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcessRuntimeVersion(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	exporter, err := promexporter.New(promexporter.WithRegisterer(cfg.Registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.Sampler),
	}
	if cfg.SpanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.SpanExporter))
	}

	t := &Telemetry{
		meters: sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter)),
		traces: sdktrace.NewTracerProvider(traceOpts...),
	}
	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t, nil
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.traces.Shutdown(ctx), t.meters.Shutdown(ctx))
}

// BuildVersion returns the main module version stamped by the Go toolchain,
// or "dev" (with the VCS revision when known) for local builds.
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	return versionOf(info)
}

func versionOf(info *debug.BuildInfo) string {
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	version := "dev"
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			rev := s.Value
			if len(rev) > 12 {
				rev = rev[:12]
			}
			version += "+" + rev
		}
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.modified" && s.Value == "true" {
			version += ".dirty"
		}
	}
	return version
}
