// Package observability wires OpenTelemetry tracing and metrics for
// the governance service: decision rates and outcomes, cache
// efficiency, scanner health and audit pipeline depth.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC, e.g. "localhost:4317"
	SampleRate     float64
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns dev-friendly defaults with telemetry off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "warden",
		ServiceVersion: "1.2.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
	}
}

// Provider owns the trace and metric providers plus the service's
// instrument set. A disabled provider is a safe no-op so call sites
// never branch on telemetry being configured.
type Provider struct {
	cfg            *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	log            *slog.Logger

	decisions       metric.Int64Counter
	denials         metric.Int64Counter
	decisionLatency metric.Float64Histogram
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	scannerFailures metric.Int64Counter
	auditDelivered  metric.Int64Counter
	auditSpooled    metric.Int64Counter
	auditDropped    metric.Int64Counter
	auditQueueDepth metric.Int64UpDownCounter
}

// New builds a provider and installs it globally when enabled.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{cfg: cfg, log: logger.With("component", "observability")}

	if !cfg.Enabled {
		p.log.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	if err := p.initTraces(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer("warden", trace.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.initInstruments(otel.Meter("warden")); err != nil {
		return nil, err
	}

	p.log.InfoContext(ctx, "telemetry initialized",
		"service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraces(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.cfg.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments(m metric.Meter) error {
	var err error
	if p.decisions, err = m.Int64Counter("warden.decisions.total",
		metric.WithDescription("Authorization decisions evaluated"),
		metric.WithUnit("{decision}")); err != nil {
		return err
	}
	if p.denials, err = m.Int64Counter("warden.denials.total",
		metric.WithDescription("Requests denied"),
		metric.WithUnit("{decision}")); err != nil {
		return err
	}
	if p.decisionLatency, err = m.Float64Histogram("warden.decision.duration",
		metric.WithDescription("Decision latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0)); err != nil {
		return err
	}
	if p.cacheHits, err = m.Int64Counter("warden.cache.hits",
		metric.WithUnit("{lookup}")); err != nil {
		return err
	}
	if p.cacheMisses, err = m.Int64Counter("warden.cache.misses",
		metric.WithUnit("{lookup}")); err != nil {
		return err
	}
	if p.scannerFailures, err = m.Int64Counter("warden.scanner.failures",
		metric.WithDescription("Scanner runs that errored or timed out"),
		metric.WithUnit("{run}")); err != nil {
		return err
	}
	if p.auditDelivered, err = m.Int64Counter("warden.audit.delivered",
		metric.WithUnit("{record}")); err != nil {
		return err
	}
	if p.auditSpooled, err = m.Int64Counter("warden.audit.spooled",
		metric.WithUnit("{record}")); err != nil {
		return err
	}
	if p.auditDropped, err = m.Int64Counter("warden.audit.dropped",
		metric.WithUnit("{record}")); err != nil {
		return err
	}
	if p.auditQueueDepth, err = m.Int64UpDownCounter("warden.audit.queue_depth",
		metric.WithUnit("{record}")); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.log.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.log.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the service tracer. Safe on a nil Provider: record
// methods and spans degrade to no-ops so call sites never branch on
// telemetry being wired.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer("warden")
	}
	return p.tracer
}

// StartSpan opens a span on the service tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordDecision counts one decision and its latency.
func (p *Provider) RecordDecision(ctx context.Context, authorized bool, requestType string, elapsed time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("authorized", authorized),
		attribute.String("request_type", requestType),
	)
	if p.decisions != nil {
		p.decisions.Add(ctx, 1, attrs)
	}
	if !authorized && p.denials != nil {
		p.denials.Add(ctx, 1, attrs)
	}
	if p.decisionLatency != nil {
		p.decisionLatency.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// RecordCacheLookup counts a decision cache hit or miss.
func (p *Provider) RecordCacheLookup(ctx context.Context, hit bool) {
	if p == nil {
		return
	}
	switch {
	case hit && p.cacheHits != nil:
		p.cacheHits.Add(ctx, 1)
	case !hit && p.cacheMisses != nil:
		p.cacheMisses.Add(ctx, 1)
	}
}

// RecordScannerFailure counts a failed scanner run.
func (p *Provider) RecordScannerFailure(ctx context.Context, scanner string) {
	if p == nil {
		return
	}
	if p.scannerFailures != nil {
		p.scannerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("scanner", scanner)))
	}
}

// RecordAudit counts one audit record by outcome: delivered, spooled
// or dropped.
func (p *Provider) RecordAudit(ctx context.Context, outcome string) {
	if p == nil {
		return
	}
	switch outcome {
	case "delivered":
		if p.auditDelivered != nil {
			p.auditDelivered.Add(ctx, 1)
		}
	case "spooled":
		if p.auditSpooled != nil {
			p.auditSpooled.Add(ctx, 1)
		}
	case "dropped":
		if p.auditDropped != nil {
			p.auditDropped.Add(ctx, 1)
		}
	}
}

// AddAuditQueueDepth moves the queue depth gauge.
func (p *Provider) AddAuditQueueDepth(ctx context.Context, delta int64) {
	if p == nil {
		return
	}
	if p.auditQueueDepth != nil {
		p.auditQueueDepth.Add(ctx, delta)
	}
}
