package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// Semantic convention attributes for the validation pipeline.
var (
	AttrTestRunID  = attribute.Key("visiongate.test_run.id")
	AttrArtifactID = attribute.Key("visiongate.artifact.id")

	AttrVerdictStatus   = attribute.Key("visiongate.verdict.status")
	AttrVerdictSeverity = attribute.Key("visiongate.verdict.severity")
	AttrCacheHit        = attribute.Key("visiongate.cache.hit")

	AttrEvaluatorID      = attribute.Key("visiongate.evaluator.id")
	AttrEvaluatorVersion = attribute.Key("visiongate.evaluator.version")

	AttrReportID     = attribute.Key("visiongate.report.id")
	AttrReportFormat = attribute.Key("visiongate.report.format")
	AttrJobStatus    = attribute.Key("visiongate.report.status")

	AttrBlobBackend = attribute.Key("visiongate.blob.backend")
	AttrHTTPRoute   = attribute.Key("visiongate.http.route")
	AttrHTTPMethod  = attribute.Key("visiongate.http.method")
)

// VerdictAttrs describes a consensus outcome.
func VerdictAttrs(testRunID string, v contracts.Verdict, cacheHit bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTestRunID.String(testRunID),
		AttrArtifactID.String(v.ArtifactID),
		AttrVerdictStatus.String(string(v.Status)),
		AttrVerdictSeverity.String(string(v.Severity)),
		AttrCacheHit.Bool(cacheHit),
	}
}

// EvaluationAttrs describes one evaluator invocation.
func EvaluationAttrs(evaluatorID, version string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEvaluatorID.String(evaluatorID),
		AttrEvaluatorVersion.String(version),
	}
}

// ReportAttrs describes a report job.
func ReportAttrs(job contracts.ReportJob) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrReportID.String(job.ReportID),
		AttrTestRunID.String(job.TestRunID),
		AttrJobStatus.String(string(job.Status)),
	}
}

// RouteAttrs describes an API request by method and normalized route.
func RouteAttrs(method, route string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrHTTPMethod.String(method),
		AttrHTTPRoute.String(route),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
