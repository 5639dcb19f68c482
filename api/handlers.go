/*
handlers.go - HTTP API handlers for the monthly performance review

PURPOSE:
  Exposes the review operations via REST API. Handles HTTP request and
  response, JSON serialization, and delegates to review.Service.

ENDPOINTS:
  GET  /api/health                    Store check and refresh status
  GET  /api/operators                 Operator summaries (?start_date&end_date)
  GET  /api/kpi-template              KPI template (?person)
  GET  /api/performance               Get or create a record (?month&person)
  POST /api/performance               Update allowed fields, rescore inline
  GET  /api/performance/score         Score (?month&person&start_date&end_date)
  POST /api/refresh                   Synchronous full refresh
  GET  /api/refresh/runs              Refresh run history (?limit)
  GET  /api/refresh/runs/{id}         One refresh run
  POST /api/assignments               Assignment sheet upload (multipart "file")

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Refresh run not found
  - 502: Remote export protocol failure during a synchronous refresh
  - 500: Storage and other internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/geekane/1127jixiao/etl"
	"github.com/geekane/1127jixiao/review"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxUploadBytes  = 32 << 20
	defaultRunLimit = 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *review.Service
	log     *zap.Logger
}

// NewHandler creates a new handler over the given service.
func NewHandler(svc *review.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, log: log}
}

// Health reports whether the store answers.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:            "ok",
		RefreshInProgress: h.Service.RefreshInProgress(),
	})
}

// =============================================================================
// OPERATOR SUMMARIES AND TEMPLATES
// =============================================================================

// GetOperatorSummaries returns one summary per assigned operator.
// GET /api/operators?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
func (h *Handler) GetOperatorSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := h.Service.OperatorSummaries(r.Context(), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		h.writeServiceError(w, "Failed to get operator summaries", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummariesResponse(report))
}

// GetKpiTemplate returns a person's template, empty when none exists.
// GET /api/kpi-template?person=NAME
func (h *Handler) GetKpiTemplate(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.Template(r.Context(), r.URL.Query().Get("person"))
	if err != nil {
		h.writeServiceError(w, "Failed to get KPI template", err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateDTOs(items))
}

// =============================================================================
// PERFORMANCE RECORDS
// =============================================================================

// GetPerformance returns the record for month and person, creating it when
// absent.
// GET /api/performance?month=YYYY-MM&person=NAME
func (h *Handler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rec, _, err := h.Service.Performance(r.Context(), q.Get("month"), q.Get("person"))
	if err != nil {
		h.writeServiceError(w, "Failed to get performance record", err)
		return
	}
	writeJSON(w, http.StatusOK, toPerformanceDTO(rec))
}

// UpdatePerformance applies allow-listed fields and returns the new score.
// The body is a flat JSON object carrying performance_month, person_name and
// the fields to set.
// POST /api/performance
func (h *Handler) UpdatePerformance(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	month, _ := body["performance_month"].(string)
	person, _ := body["person_name"].(string)

	res, err := h.Service.UpdatePerformance(r.Context(), month, person, body)
	if err != nil {
		h.writeServiceError(w, "Failed to update performance record", err)
		return
	}

	switch {
	case res.NothingToUpdate:
		writeJSON(w, http.StatusOK, UpdatePerformanceResponse{Message: "Nothing to update"})
	case res.Created:
		score := toScoreDTO(res.Score)
		writeJSON(w, http.StatusCreated, UpdatePerformanceResponse{Message: "Performance record created", Score: &score})
	default:
		score := toScoreDTO(res.Score)
		writeJSON(w, http.StatusOK, UpdatePerformanceResponse{Message: "Performance record updated", Score: &score})
	}
}

// GetScore computes the KPI score for month and person.
// GET /api/performance/score?month=YYYY-MM&person=NAME[&start_date&end_date]
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.Service.Score(r.Context(), q.Get("month"), q.Get("person"), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		h.writeServiceError(w, "Failed to compute score", err)
		return
	}
	writeJSON(w, http.StatusOK, toScoreDTO(res))
}

// =============================================================================
// REFRESH
// =============================================================================

// RunRefresh runs the full refresh and waits for it. A refresh already in
// flight is joined.
// POST /api/refresh
func (h *Handler) RunRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Refresh(r.Context())
	if err != nil {
		h.writeServiceError(w, "Refresh failed", err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{
		RunID:        res.RunID,
		PeriodStart:  res.Period.StartString(),
		PeriodEnd:    res.Period.EndString(),
		MonthlyCount: res.MonthlyCount,
		DailyCount:   res.DailyCount,
	})
}

// ListRefreshRuns returns refresh run history, newest first.
// GET /api/refresh/runs?limit=N
func (h *Handler) ListRefreshRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Service.Runs(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "Failed to list refresh runs", err)
		return
	}
	dtos := make([]RefreshRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRefreshRun returns one refresh run.
// GET /api/refresh/runs/{id}
func (h *Handler) GetRefreshRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "Failed to get refresh run", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// UploadAssignments replaces the store-to-operator assignments with the
// rows of an uploaded .xlsx or .xls sheet.
// POST /api/assignments (multipart field "file")
func (h *Handler) UploadAssignments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file", err)
		return
	}

	count, err := h.Service.ImportAssignments(r.Context(), data, header.Filename)
	if err != nil {
		h.writeServiceError(w, "Failed to import assignments", err)
		return
	}
	if count == 0 {
		writeJSON(w, http.StatusOK, UploadAssignmentsResponse{
			Message: "No valid records found, assignments unchanged",
		})
		return
	}
	writeJSON(w, http.StatusOK, UploadAssignmentsResponse{
		Message: fmt.Sprintf("Imported %d assignments", count),
		Count:   count,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case etl.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, etl.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case etl.IsExtraction(err):
		h.log.Warn(strings.ToLower(message), zap.Error(err))
		writeError(w, http.StatusBadGateway, message, err)
	default:
		h.log.Error(strings.ToLower(message), zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
