// Package otel sets up park-patrol's telemetry.
//
// Every check produces a "process" span with its vision and decision model
// calls nested under it as GenAI spans, and the stage, cache and token
// counters in Metrics. Both go to an OTLP/HTTP collector when an endpoint is
// configured (config file, PARK_PATROL_OTEL_ENDPOINT or
// OTEL_EXPORTER_OTLP_ENDPOINT); otherwise the global no-op providers stay in
// place and nothing leaves the process.
package otel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "park-patrol"

// Version is reported as service.version. cmd sets it from its own Version.
var Version = "dev"

// Config points telemetry at a collector.
type Config struct {
	// Endpoint is the OTLP base URL; /v1/traces and /v1/metrics are appended
	// to its path, e.g. "http://localhost:3000/api/public/otel".
	Endpoint string
	// Headers uses the OTEL_EXPORTER_OTLP_HEADERS format, e.g.
	// "Authorization=Basic abc123,x-tenant=parking".
	Headers string
	// Interval between metric exports. Zero means 15s.
	Interval time.Duration
}

// Telemetry owns the SDK providers installed by Init.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	Metrics *Metrics
}

// Init installs exporting trace and meter providers when cfg.Endpoint is
// set. Metrics is always usable; without an endpoint its instruments are
// no-ops.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	t := &Telemetry{}
	if cfg.Endpoint != "" {
		if err := t.export(ctx, cfg); err != nil {
			return nil, err
		}
	}

	m, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	t.Metrics = m
	return t, nil
}

func (t *Telemetry) export(ctx context.Context, cfg Config) error {
	ep, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(Version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("otel resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(ep.host),
		otlptracehttp.WithURLPath(ep.path + "/v1/traces"),
	}
	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(ep.host),
		otlpmetrichttp.WithURLPath(ep.path + "/v1/metrics"),
	}
	if ep.insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	if h := parseHeaders(cfg.Headers); len(h) > 0 {
		traceOpts = append(traceOpts, otlptracehttp.WithHeaders(h))
		metricOpts = append(metricOpts, otlpmetrichttp.WithHeaders(h))
	}

	spans, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return fmt.Errorf("otel trace exporter: %w", err)
	}
	points, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return fmt.Errorf("otel metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	t.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spans),
		sdktrace.WithResource(res),
	)
	t.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(t.tp)
	otel.SetMeterProvider(t.mp)
	return nil
}

// endpoint is a collector URL split the way the OTLP HTTP options want it:
// host:port separately from the base path.
type endpoint struct {
	host     string
	path     string
	insecure bool
}

func parseEndpoint(raw string) (endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("otel: invalid endpoint URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return endpoint{}, fmt.Errorf("otel: endpoint %q has no host", raw)
	}
	return endpoint{
		host:     u.Host,
		path:     strings.TrimRight(u.Path, "/"),
		insecure: u.Scheme == "http",
	}, nil
}

// parseHeaders reads "key=value,key2=value2". Pairs without a key are skipped.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(val)
	}
	return headers
}

// Enabled reports whether spans and metrics are exported.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.tp != nil
}

// Shutdown flushes pending spans and metric points.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if !t.Enabled() {
		return
	}
	_ = t.tp.Shutdown(ctx)
	_ = t.mp.Shutdown(ctx)
}
