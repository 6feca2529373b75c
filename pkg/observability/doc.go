// Package observability provides OpenTelemetry tracing and metrics for
// the validation service, plus a lightweight SLO tracker and a bounded
// run-event timeline for debugging.
//
// # Setup
//
// Initialize a provider at startup and shut it down on exit:
//
//	provider, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "visiongate",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer provider.Shutdown(ctx)
//
// A disabled provider is safe to pass around; every record method
// becomes a no-op.
//
// # Instrumentation
//
// Trace and time an operation:
//
//	ctx, done := provider.TrackOperation(ctx, observability.OpEvaluate)
//	err := evaluate(ctx)
//	done(err)
//
// Record domain events at their call sites:
//
//	provider.RecordVerdict(ctx, runID, verdict, cacheHit)
//	provider.RecordRender(ctx, format, elapsed, err)
//	provider.RecordDegraded(ctx, reportID)
//	provider.RegisterQueueDepth(pool.QueueDepth)
package observability
