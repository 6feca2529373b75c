// Package api — RFC 7807 Problem Detail error responses for the
// VisionGate API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/visiongate/visiongate/pkg/blob"
	"github.com/visiongate/visiongate/pkg/contracts"
	"github.com/visiongate/visiongate/pkg/reports"
	"github.com/visiongate/visiongate/pkg/reportstore"
	"github.com/visiongate/visiongate/pkg/verdicts"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links to the request log line for this occurrence.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://visiongate.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://visiongate.dev/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteGone writes a 410 error response (expired handles, renditions
// that are only fallback-resident).
func WriteGone(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusGone, "Gone", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteServiceUnavailable writes a 503 error response with Retry-After.
func WriteServiceUnavailable(w http.ResponseWriter, detail string, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", detail)
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteDomainError maps a pipeline or storage error onto its RFC 7807
// response. Anything unmapped is treated as internal.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reportstore.ErrNotFound),
		errors.Is(err, verdicts.ErrArtifactNotFound),
		errors.Is(err, blob.ErrNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, contracts.ErrUnknownFormat),
		errors.Is(err, blob.ErrInvalidReportID):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, blob.ErrExpiredHandle):
		WriteGone(w, "The download handle has expired. Request a new one.")
	case errors.Is(err, reportstore.ErrDegradedRendition):
		WriteGone(w, "The rendition is held in the degraded fallback cache and cannot be served by signed URL.")
	case errors.Is(err, blob.ErrInvalidHandle):
		WriteError(w, http.StatusForbidden, "Forbidden", "The download handle does not grant access to this rendition.")
	case errors.Is(err, reports.ErrQueueFull):
		WriteServiceUnavailable(w, "The report queue is full. Retry shortly.", 5)
	case errors.Is(err, reportstore.ErrUnavailable):
		WriteServiceUnavailable(w, "Durable storage is unavailable.", 15)
	default:
		WriteInternal(w, err)
	}
}
