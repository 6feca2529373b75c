package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/visiongate/visiongate/pkg/observability"
)

// TelemetryMiddleware records one span and RED metrics per request,
// labeled by method and normalized route.
func TelemetryMiddleware(provider *observability.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeClass(r.URL.Path)
			ctx, done := provider.TrackOperation(r.Context(),
				r.Method+" "+route,
				observability.RouteAttrs(r.Method, route)...,
			)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			var err error
			if rec.status >= http.StatusInternalServerError {
				err = fmt.Errorf("http %d", rec.status)
			}
			done(err)
		})
	}
}

// routeClass collapses a request path to a low-cardinality route label,
// replacing path IDs with placeholders.
func routeClass(path string) string {
	switch path {
	case "/healthz", "/api/v1/reports", "/api/v1/cache/stats":
		return path
	}
	if strings.HasPrefix(path, "/blobs/") {
		return "/blobs/{report_id}"
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/reports/"); ok {
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			return "/api/v1/reports/{report_id}/" + rest[idx+1:]
		}
		return "/api/v1/reports/{report_id}"
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/test-runs/"); ok {
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			return "/api/v1/test-runs/{test_run_id}/" + rest[idx+1:]
		}
		return "/api/v1/test-runs/{test_run_id}"
	}
	return "other"
}
