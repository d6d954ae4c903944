package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/auth"
	"github.com/openreport-ai/orchestrator/internal/db"
	"github.com/openreport-ai/orchestrator/internal/metrics"
	"github.com/openreport-ai/orchestrator/internal/providers/search"
	"github.com/openreport-ai/orchestrator/internal/run"
	"github.com/openreport-ai/orchestrator/internal/server"
	"github.com/openreport-ai/orchestrator/internal/streaming"
)

// Handler exposes the research run API over HTTP.
type Handler struct {
	svc    *server.Service
	mgr    *streaming.Manager
	index  *search.Index
	logger *zap.Logger
}

// NewHandler creates the API handler. index may be nil when no local
// document directory is configured.
func NewHandler(svc *server.Service, mgr *streaming.Manager, index *search.Index, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, mgr: mgr, index: index, logger: logger}
}

// RegisterRoutes registers all API routes on the provided mux. Streaming
// endpoints skip the metrics wrapper so the Flusher interface survives.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/v1/research", h.instrument("create_run", h.handleStartRun))
	mux.Handle("GET /api/v1/research", h.instrument("list_runs", h.handleListRuns))
	mux.Handle("GET /api/v1/research/{id}", h.instrument("get_run", h.handleGetRun))
	mux.Handle("DELETE /api/v1/research/{id}", h.instrument("delete_run", h.handleDeleteRun))
	mux.Handle("GET /api/v1/research/{id}/plan", h.instrument("get_plan", h.handleGetPlan))
	mux.Handle("GET /api/v1/research/{id}/sections", h.instrument("get_sections", h.handleGetSections))
	mux.Handle("POST /api/v1/research/{id}/feedback", h.instrument("submit_feedback", h.handleFeedback))
	mux.Handle("GET /api/v1/research/{id}/result", h.instrument("get_result", h.handleGetResult))
	mux.HandleFunc("GET /api/v1/research/{id}/events", h.handleEvents)
	mux.HandleFunc("GET /api/v1/research/{id}/ws", h.handleWS)
	mux.Handle("GET /api/v1/documents", h.instrument("list_documents", h.handleListDocuments))
}

// handleStartRun creates a research run and starts its workflow.
// POST /api/v1/research
func (h *Handler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req server.StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		req.UserID = user.UserID
	}

	resp, err := h.svc.StartRun(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusAccepted, resp)
}

// handleListRuns returns recent runs for the authenticated user.
// GET /api/v1/research?limit=50&offset=0
func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	offset := intQuery(r, "offset", 0)

	var userID string
	if user, ok := auth.UserFromContext(r.Context()); ok {
		userID = user.UserID
	}

	runs, err := h.svc.ListRuns(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun returns run status, progress, and the current plan.
// GET /api/v1/research/{id}
func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, rec)
}

// handleGetPlan returns the current report plan once planning has produced
// one.
// GET /api/v1/research/{id}/plan
func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rec.Plan == nil {
		h.writeError(w, &run.InvalidStateError{
			Op:       "fetch plan",
			Current:  rec.Status,
			Required: run.StatusWaitingForFeedback,
		})
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": rec.ID,
		"status": rec.Status,
		"plan":   rec.Plan,
	})
}

// sectionView is the wire form of a section row.
type sectionView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      string         `json:"status"`
	Content     string         `json:"content,omitempty"`
	Citations   []run.Citation `json:"citations,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func toSectionView(rec db.SectionRecord) sectionView {
	v := sectionView{
		Name:        rec.Name,
		Description: rec.Description,
		Status:      rec.Status,
		Citations:   rec.Citations,
		UpdatedAt:   rec.UpdatedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.Content != nil {
		v.Content = *rec.Content
	}
	return v
}

// handleGetSections returns per-section research state in plan order.
// GET /api/v1/research/{id}/sections
func (h *Handler) handleGetSections(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	rows, err := h.svc.GetSections(r.Context(), runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	sections := make([]sectionView, 0, len(rows))
	for _, row := range rows {
		sections = append(sections, toSectionView(row))
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":   runID,
		"sections": sections,
	})
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

// handleFeedback submits plan feedback; an empty string approves the plan.
// POST /api/v1/research/{id}/feedback
func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.SubmitFeedback(r.Context(), runID, req.Feedback); err != nil {
		h.writeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id": runID,
		"status": run.StatusProcessingFeedback,
	})
}

// handleGetResult returns the final report; 409 until the run completes.
// GET /api/v1/research/{id}/result
func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":       rec.ID,
		"topic":        rec.Topic,
		"report":       rec.FinalReport,
		"completed_at": rec.CompletedAt,
	})
}

// handleDeleteRun terminates any in-flight workflow and removes the run.
// DELETE /api/v1/research/{id}
func (h *Handler) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListDocuments reports the local document index contents.
// GET /api/v1/documents
func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		h.sendError(w, "local document index not configured", http.StatusNotFound)
		return
	}
	files, err := h.index.Files()
	if err != nil {
		h.writeError(w, err)
		return
	}
	chunks, fileCount, err := h.index.Stats()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"files":      files,
		"file_count": fileCount,
		"chunks":     chunks,
	})
}

// writeError maps domain errors onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var stateErr *run.InvalidStateError
	switch {
	case run.NotFound(err):
		h.sendError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &stateErr):
		h.sendError(w, stateErr.Error(), http.StatusConflict)
	case errors.Is(err, server.ErrInvalidRequest):
		h.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("Request failed", zap.Error(err))
		h.sendError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func (h *Handler) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func intQuery(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.code)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
