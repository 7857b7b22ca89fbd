// Package api exposes the service over HTTP with chi, for clients that
// cannot reach the Unix socket gateway.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-sh/mnemo/internal/memory"
	"github.com/mnemo-sh/mnemo/internal/search"
	"github.com/mnemo-sh/mnemo/internal/types"
	"github.com/mnemo-sh/mnemo/internal/validation"
)

// maxContentBytes bounds remembered content; anything bigger belongs in
// a web page record or an external file.
const maxContentBytes = 100_000

// Handler implements the HTTP handlers over the memory service.
type Handler struct {
	svc    *memory.Service
	apiKey string
}

// NewHandler creates a Handler.
func NewHandler(svc *memory.Service, apiKey string) *Handler {
	return &Handler{svc: svc, apiKey: apiKey}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.svc.Health(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, health)
}

// RememberMemory handles POST /api/v1/memories.
func (h *Handler) RememberMemory(w http.ResponseWriter, r *http.Request) {
	var req memory.RememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	var c validation.Collector
	c.Add(validation.Required("text", req.Text))
	c.Add(validation.UTF8("text", req.Text))
	c.Add(validation.NoNullBytes("text", req.Text))
	c.Add(validation.MaxLength("text", req.Text, maxContentBytes))
	c.Add(validation.MaxItems("tags", len(req.Tags), 32))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	result, err := h.svc.Remember(r.Context(), req)
	if err != nil {
		slog.Error("remember failed", "component", "api", "error", err)
		MapServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Status == types.RememberBlocked {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

// SearchMemories handles GET /api/v1/memories/search.
func (h *Handler) SearchMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	mode := q.Get("mode")

	var c validation.Collector
	c.Add(validation.Required("q", query))
	c.Add(validation.Enum("mode", mode, []string{"auto", "tag", "keyword", "semantic", "hybrid"}))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	opts := search.Options{Mode: search.Mode(mode)}
	if mode == "auto" {
		opts.Mode = search.ModeAuto
	}
	if v := q.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "top_k must be an integer")
			return
		}
		opts.TopK = n
	}
	if v := q.Get("max_distance"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "max_distance must be a number")
			return
		}
		opts.MaxDistance = d
	}

	results, err := h.svc.Search(r.Context(), query, opts)
	if err != nil {
		MapServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

// GetMemory handles GET /api/v1/memories/{id}.
func (h *Handler) GetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// DeleteMemory handles DELETE /api/v1/memories/{id}.
func (h *Handler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		MapServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Capture handles POST /api/v1/capture, the hook write path.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var event types.CaptureEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	var c validation.Collector
	c.Add(validation.Required("content", event.Content))
	c.Add(validation.UTF8("content", event.Content))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	if err := h.svc.AutoRemember(r.Context(), event); err != nil {
		MapServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

// SavePage handles POST /api/v1/pages.
func (h *Handler) SavePage(w http.ResponseWriter, r *http.Request) {
	var page types.WebPage
	if err := json.NewDecoder(r.Body).Decode(&page); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	var c validation.Collector
	c.Add(validation.Required("url", page.URL))
	c.Add(validation.Required("content", page.Content))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	if err := h.svc.SaveWebPage(r.Context(), page); err != nil {
		MapServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"saved": page.URL})
}

// Count handles GET /api/v1/collections/{collection}/count.
func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Count(r.Context(), chi.URLParam(r, "collection"))
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": n})
}

type queryRequest struct {
	Filter map[string]any `json:"filter"`
	Limit  int            `json:"limit,omitempty"`
}

// QueryCollection handles POST /api/v1/collections/{collection}/query.
func (h *Handler) QueryCollection(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	rows, err := h.svc.Query(r.Context(), chi.URLParam(r, "collection"), req.Filter, req.Limit)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

type fixRequest struct {
	Error    string `json:"error"`
	Strategy string `json:"strategy"`
	Success  bool   `json:"success,omitempty"`
}

// FixAttempt handles POST /api/v1/fixes/attempts.
func (h *Handler) FixAttempt(w http.ResponseWriter, r *http.Request) {
	var req fixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	var c validation.Collector
	c.Add(validation.Required("error", req.Error))
	c.Add(validation.Required("strategy", req.Strategy))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	chain, err := h.svc.RecordFixAttempt(r.Context(), req.Error, req.Strategy)
	if err != nil {
		MapServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, chain)
}

// FixOutcome handles POST /api/v1/fixes/outcomes.
func (h *Handler) FixOutcome(w http.ResponseWriter, r *http.Request) {
	var req fixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	var c validation.Collector
	c.Add(validation.Required("error", req.Error))
	c.Add(validation.Required("strategy", req.Strategy))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	chain, err := h.svc.RecordFixOutcome(r.Context(), req.Error, req.Strategy, req.Success)
	if err != nil {
		MapServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, chain)
}

// FixHistory handles GET /api/v1/fixes/history.
func (h *Handler) FixHistory(w http.ResponseWriter, r *http.Request) {
	errText := r.URL.Query().Get("error")
	if err := validation.Required("error", errText); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}

	history, err := h.svc.FixHistory(r.Context(), errText)
	if err != nil {
		MapServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// Flush handles POST /api/v1/admin/flush.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.FlushQueue(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Backup handles POST /api/v1/admin/backup.
func (h *Handler) Backup(w http.ResponseWriter, r *http.Request) {
	path, err := h.svc.Backup(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"path": path})
}

type maintenanceRequest struct {
	Task string `json:"task"`
}

// Maintenance handles POST /api/v1/admin/maintenance.
func (h *Handler) Maintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	report, err := h.svc.Maintenance(r.Context(), req.Task)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}
