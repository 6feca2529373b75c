package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
	"github.com/visiongate/visiongate/pkg/metering"
	"github.com/visiongate/visiongate/pkg/reportstore"
)

// maxListLimit caps one page of the report listing.
const maxListLimit = 100

type createReportRequest struct {
	TestRunID string   `json:"test_run_id"`
	Formats   []string `json:"formats"`
}

type createReportResponse struct {
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
}

// readValidated reads the body, checks it against the compiled schema,
// and decodes it into dst. A false return means the response has been
// written.
func (s *Server) readValidated(w http.ResponseWriter, r *http.Request, schema interface{ Validate(any) error }, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Unable to read request body")
		return false
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		WriteBadRequest(w, "Invalid JSON in request body")
		return false
	}
	if err := schema.Validate(payload); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleReports serves POST /api/v1/reports and GET /api/v1/reports.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createReport(w, r)
	case http.MethodGet:
		s.listReports(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if !s.readValidated(w, r, createReportValidator, &req) {
		return
	}

	formats := make([]contracts.ReportFormat, 0, len(req.Formats))
	for _, f := range req.Formats {
		parsed, err := contracts.ParseFormat(f)
		if err != nil {
			WriteBadRequest(w, "Unknown format "+strconv.Quote(f))
			return
		}
		formats = append(formats, parsed)
	}

	job, err := s.orchestrator.Submit(r.Context(), req.TestRunID, formats)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/reports/"+job.ReportID)
	writeJSON(w, http.StatusAccepted, createReportResponse{
		ReportID: job.ReportID,
		Status:   string(job.Status),
	})
}

type listReportsResponse struct {
	Reports []contracts.ReportJob `json:"reports"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 20
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteBadRequest(w, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	filter := reportstore.Filter{
		TestRunID: q.Get("test_run_id"),
		Status:    contracts.JobStatus(q.Get("status")),
		Limit:     limit,
		Offset:    offset,
	}
	jobs, total, err := s.store.List(r.Context(), filter)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listReportsResponse{
		Reports: jobs,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// handleReportRouter dispatches /api/v1/reports/{id} and
// /api/v1/reports/{id}/download.
func (s *Server) handleReportRouter(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/reports/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w)
			return
		}
		s.getReport(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "download":
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w)
			return
		}
		s.downloadReport(w, r, parts[0])
	default:
		WriteNotFound(w, "No such endpoint")
	}
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request, reportID string) {
	job, err := s.store.Get(r.Context(), reportID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type downloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) downloadReport(w http.ResponseWriter, r *http.Request, reportID string) {
	formatRaw := r.URL.Query().Get("format")
	if formatRaw == "" {
		formatRaw = string(contracts.FormatJSON)
	}
	format, err := contracts.ParseFormat(formatRaw)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	job, err := s.store.Get(r.Context(), reportID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if job.Status != contracts.JobCompleted {
		WriteNotFound(w, "The report has no downloadable renditions in status "+string(job.Status))
		return
	}
	if _, ok := job.StorageLocations[format]; !ok {
		WriteNotFound(w, "The report was not rendered as "+string(format))
		return
	}

	handle, err := s.store.Download(r.Context(), reportID, format, s.handleTTL)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadResponse{URL: handle.URL, ExpiresAt: handle.ExpiresAt})
}

type submitArtifactRequest struct {
	ArtifactID string    `json:"artifact_id"`
	ImageB64   string    `json:"image_b64"`
	CapturedAt time.Time `json:"captured_at"`
}

type submitArtifactResponse struct {
	Verdict  contracts.Verdict `json:"verdict"`
	CacheHit bool              `json:"cache_hit"`
}

// handleTestRunRouter dispatches /api/v1/test-runs/{id}/artifacts,
// /api/v1/test-runs/{id}/verdicts and /api/v1/test-runs/{id}/usage.
func (s *Server) handleTestRunRouter(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/test-runs/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		WriteNotFound(w, "No such endpoint")
		return
	}
	runID := parts[0]

	switch parts[1] {
	case "artifacts":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.submitArtifact(w, r, runID)
	case "verdicts":
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w)
			return
		}
		s.listVerdicts(w, r, runID)
	case "usage":
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w)
			return
		}
		s.runUsage(w, r, runID)
	default:
		WriteNotFound(w, "No such endpoint")
	}
}

func (s *Server) submitArtifact(w http.ResponseWriter, r *http.Request, runID string) {
	var req submitArtifactRequest
	if !s.readValidated(w, r, submitArtifactValidator, &req) {
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		WriteBadRequest(w, "image_b64 is not valid base64")
		return
	}

	result, err := s.pipeline.Process(r.Context(), runID, req.ArtifactID, image, req.CapturedAt)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitArtifactResponse{
		Verdict:  result.Verdict,
		CacheHit: result.CacheHit,
	})
}

type listVerdictsResponse struct {
	TestRunID string              `json:"test_run_id"`
	Verdicts  []contracts.Verdict `json:"verdicts"`
}

func (s *Server) listVerdicts(w http.ResponseWriter, r *http.Request, runID string) {
	latest, err := s.verdicts.LatestVerdicts(r.Context(), runID, time.Now().UTC())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listVerdictsResponse{TestRunID: runID, Verdicts: latest})
}

func (s *Server) runUsage(w http.ResponseWriter, r *http.Request, runID string) {
	if s.meter == nil {
		WriteNotFound(w, "Usage metering is not enabled")
		return
	}
	usage, err := s.meter.RunUsage(r.Context(), runID, metering.MonthlyPeriod())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

type healthResponse struct {
	Status   string `json:"status"`
	Degraded bool   `json:"degraded"`
	Queue    int    `json:"report_queue_depth"`
}

// handleHealthz always answers 200; degraded storage is reported in the
// body, not as liveness failure.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	resp := healthResponse{Status: "ok", Queue: s.orchestrator.QueueDepth()}
	if s.store.Degraded() {
		resp.Status = "degraded"
		resp.Degraded = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// formatContentType maps a rendition format to its MIME type.
func formatContentType(format contracts.ReportFormat) string {
	switch format {
	case contracts.FormatHTML:
		return "text/html; charset=utf-8"
	case contracts.FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

// handleBlobDownload serves filesystem-backed renditions after
// verifying the signed handle minted by the download endpoint.
func (s *Server) handleBlobDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	reportID := strings.TrimPrefix(r.URL.Path, "/blobs/")
	if reportID == "" || strings.Contains(reportID, "/") {
		WriteNotFound(w, "No such blob")
		return
	}

	q := r.URL.Query()
	format, err := contracts.ParseFormat(q.Get("format"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if err := s.fsBlobs.VerifyHandle(q.Get("token"), reportID, format); err != nil {
		WriteDomainError(w, err)
		return
	}

	data, err := s.fsBlobs.Open(r.Context(), reportID, format)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", formatContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="report.`+string(format)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
