// Package observability wires OpenTelemetry tracing and metrics for the
// validation pipeline.
//
// It exports RED metrics (rate, errors, duration) for the API surface
// plus domain instruments: fingerprint cache hits and misses, verdict
// totals by status, render latency by format, degraded storage events,
// and the PDF queue depth.
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

	"github.com/visiongate/visiongate/pkg/contracts"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // gRPC collector endpoint, e.g. "localhost:4317"
	SampleRate     float64       // 0.0 to 1.0, default 1.0 (sample all)
	BatchTimeout   time.Duration // how long spans batch before export
	Enabled        bool
	Insecure       bool // plaintext collector connection (dev only)
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "visiongate",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages OpenTelemetry trace and metric providers. All record
// methods are safe on a disabled provider; they become no-ops.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	slo      *SLOTracker
	timeline *Timeline

	// RED metrics for the API surface.
	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter

	// Pipeline instruments.
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	verdictCounter metric.Int64Counter
	renderHist     metric.Float64Histogram
	degradedEvents metric.Int64Counter
}

// New creates a new observability provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("visiongate",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("visiongate",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)

	return p, nil
}

// WithSLOTracker attaches a tracker; TrackOperation and RecordRender
// feed it one observation per completed operation.
func (p *Provider) WithSLOTracker(t *SLOTracker) *Provider {
	p.slo = t
	return p
}

// WithTimeline attaches a run timeline fed by the domain record methods.
func (p *Provider) WithTimeline(tl *Timeline) *Provider {
	p.timeline = tl
	return p
}

// Timeline returns the attached run timeline, or nil.
func (p *Provider) Timeline() *Timeline {
	return p.timeline
}

// SLO returns the attached tracker, or nil.
func (p *Provider) SLO() *SLOTracker {
	return p.slo
}

// initTraceProvider initializes the OpenTelemetry trace provider.
func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	if p.config.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if p.config.SampleRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return nil
}

// initMetricProvider initializes the OpenTelemetry metric provider.
func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	otel.SetMeterProvider(p.meterProvider)

	return nil
}

// initInstruments creates the RED and pipeline instruments.
func (p *Provider) initInstruments() error {
	var err error

	p.requestCounter, err = p.meter.Int64Counter("visiongate.requests.total",
		metric.WithDescription("Total number of API requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	p.errorCounter, err = p.meter.Int64Counter("visiongate.errors.total",
		metric.WithDescription("Total number of errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.durationHist, err = p.meter.Float64Histogram("visiongate.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	p.activeOperations, err = p.meter.Int64UpDownCounter("visiongate.operations.active",
		metric.WithDescription("Number of currently active operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	p.cacheHits, err = p.meter.Int64Counter("visiongate.cache.hits",
		metric.WithDescription("Artifacts served from the fingerprint cache"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		return err
	}

	p.cacheMisses, err = p.meter.Int64Counter("visiongate.cache.misses",
		metric.WithDescription("Artifacts that required a full evaluation"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		return err
	}

	p.verdictCounter, err = p.meter.Int64Counter("visiongate.verdicts.total",
		metric.WithDescription("Verdicts recorded, by status and severity"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		return err
	}

	// PDF prints can legitimately take minutes under queue pressure, so
	// the buckets run far past the request histogram's.
	p.renderHist, err = p.meter.Float64Histogram("visiongate.render.duration",
		metric.WithDescription("Rendition production time in seconds, by format"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0),
	)
	if err != nil {
		return err
	}

	p.degradedEvents, err = p.meter.Int64Counter("visiongate.store.degraded",
		metric.WithDescription("Operations served by the fallback cache instead of primary storage"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RegisterQueueDepth exports fn as the PDF queue depth gauge. Call once
// after the render pool exists; fn must be safe for concurrent use.
func (p *Provider) RegisterQueueDepth(fn func() int64) error {
	if !p.config.Enabled || fn == nil {
		return nil
	}
	_, err := p.meter.Int64ObservableGauge("visiongate.pdf.queue_depth",
		metric.WithDescription("Prints waiting for a browser slot"),
		metric.WithUnit("{job}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fn())
			return nil
		}),
	)
	return err
}

// Shutdown gracefully shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("visiongate")
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter("visiongate")
	}
	return p.meter
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordRequest records a request with the given attributes.
func (p *Provider) RecordRequest(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.requestCounter != nil {
		p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordError records an error with the given attributes.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if p.errorCounter != nil {
		allAttrs := append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
		p.errorCounter.Add(ctx, 1, metric.WithAttributes(allAttrs...))
	}
}

// RecordDuration records the duration of an operation.
func (p *Provider) RecordDuration(ctx context.Context, duration time.Duration, attrs ...attribute.KeyValue) {
	if p.durationHist != nil {
		p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordVerdict counts a consensus outcome and, when the timeline is
// attached, appends an entry for the run. Wire it as the intake
// pipeline's verdict observer.
func (p *Provider) RecordVerdict(ctx context.Context, testRunID string, v contracts.Verdict, cacheHit bool) {
	if p.verdictCounter != nil {
		p.verdictCounter.Add(ctx, 1, metric.WithAttributes(
			AttrVerdictStatus.String(string(v.Status)),
			AttrVerdictSeverity.String(string(v.Severity)),
		))
	}
	if cacheHit {
		if p.cacheHits != nil {
			p.cacheHits.Add(ctx, 1)
		}
	} else if p.cacheMisses != nil {
		p.cacheMisses.Add(ctx, 1)
	}
	if p.timeline != nil {
		entryType := EntryVerdict
		if cacheHit {
			entryType = EntryCacheHit
		}
		_ = p.timeline.Record(TimelineEntry{
			EntryType: entryType,
			TestRunID: testRunID,
			Summary:   fmt.Sprintf("artifact %s: %s", v.ArtifactID, v.Status),
			Details: map[string]interface{}{
				"verdict_id": v.VerdictID,
				"status":     string(v.Status),
				"severity":   string(v.Severity),
				"confidence": v.AggregateConfidence,
				"agreeing":   v.AgreeingEvaluators,
				"total":      v.TotalEvaluators,
			},
		})
	}
}

// RecordRender observes one rendition's production time. Wire it as the
// report orchestrator's render observer.
func (p *Provider) RecordRender(ctx context.Context, format contracts.ReportFormat, elapsed time.Duration, err error) {
	if p.renderHist != nil {
		p.renderHist.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			AttrReportFormat.String(string(format)),
			attribute.Bool("success", err == nil),
		))
	}
	if err != nil {
		p.RecordError(ctx, err, AttrReportFormat.String(string(format)))
	}
	if p.slo != nil {
		p.slo.Record(SLOObservation{
			Operation: OpRender,
			Latency:   elapsed,
			Success:   err == nil,
		})
	}
}

// RecordDegraded counts an operation that fell back to the in-process
// cache because primary storage was unavailable.
func (p *Provider) RecordDegraded(ctx context.Context, reportID string) {
	if p.degradedEvents != nil {
		p.degradedEvents.Add(ctx, 1)
	}
	if p.timeline != nil {
		_ = p.timeline.Record(TimelineEntry{
			EntryType: EntryDegraded,
			ReportID:  reportID,
			Summary:   "served from fallback cache",
		})
	}
}

// TrackOperation tracks an operation from start to finish.
// Returns a function that should be called when the operation completes.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()

	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	if p.activeOperations != nil {
		p.activeOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	p.RecordRequest(ctx, attrs...)

	return ctx, func(err error) {
		duration := time.Since(start)

		if p.activeOperations != nil {
			p.activeOperations.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		p.RecordDuration(ctx, duration, attrs...)

		if err != nil {
			span.RecordError(err)
			p.RecordError(ctx, err, attrs...)
		}
		if p.slo != nil {
			p.slo.Record(SLOObservation{
				Operation: name,
				Latency:   duration,
				Success:   err == nil,
			})
		}

		span.End()
	}
}
