// Package handlers implements the HTTP handlers for the Inkstone AI core.
// All handlers delegate to the core Service; the HTTP layer only decodes,
// validates, and maps errors onto status codes.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/inkstone-ai/inkstone/internal/core"
	"github.com/inkstone-ai/inkstone/internal/manager"
	"github.com/inkstone-ai/inkstone/internal/query"
	"github.com/inkstone-ai/inkstone/internal/schema"
	"github.com/inkstone-ai/inkstone/internal/store"
	"github.com/inkstone-ai/inkstone/internal/workflow"
	"github.com/inkstone-ai/inkstone/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Service *core.Service

	// SchemaLoader fills in empty query schemas from a live database.
	// Nil when no schema database is configured.
	SchemaLoader *schema.Loader

	Version string
}

// New creates a Handlers instance.
func New(svc *core.Service, loader *schema.Loader, version string) *Handlers {
	return &Handlers{Service: svc, SchemaLoader: loader, Version: version}
}

// ── Generation ──────────────────────────────────────────────

func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req workflow.ContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	result, err := h.Service.Generate(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type analyzeRequest struct {
	Content string              `json:"content"`
	Type    models.AnalysisType `json:"type"`
}

func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Type == "" {
		req.Type = models.AnalysisSummary
	}

	result, err := h.Service.Analyze(r.Context(), req.Content, req.Type)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ── Database Query ──────────────────────────────────────────

func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	for _, table := range req.Schema.Tables {
		if strings.TrimSpace(table.Name) == "" {
			respondError(w, http.StatusBadRequest, "schema table names must not be empty")
			return
		}
	}

	// Fill in the schema from the configured database when the caller
	// supplied none.
	if len(req.Schema.Tables) == 0 && h.SchemaLoader != nil {
		loaded, err := h.SchemaLoader.Load(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("Schema introspection failed")
			respondError(w, http.StatusBadGateway, "schema introspection failed")
			return
		}
		req.Schema = *loaded
	}
	if len(req.Schema.Tables) == 0 {
		respondError(w, http.StatusBadRequest, "schema is required")
		return
	}

	result, err := h.Service.Query(r.Context(), &req)
	if err != nil {
		if errors.Is(err, query.ErrSQLGenerationFailed) {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"code":  "sql_generation_failed",
				"error": "could not generate a valid SQL statement",
			})
			return
		}
		h.respondServiceError(w, r, err)
		return
	}

	// A blocked result carries the flags with the SQL withheld.
	if result.Blocked() {
		respondJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ── Embeddings ──────────────────────────────────────────────

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Model     string    `json:"model"`
	Embedding []float64 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

func (h *Handlers) Embed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	vec, model, err := h.Service.Embed(r.Context(), req.Text)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, embedResponse{Model: model, Embedding: vec, Dimension: len(vec)})
}

// ── Models ──────────────────────────────────────────────────

func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Service.ListModels())
}

type statusRequest struct {
	Status models.ModelStatus `json:"status"`
}

// SetModelStatus is the installer hook: model installers report download
// progress by flipping descriptor status.
func (h *Handlers) SetModelStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "provider") + "/" + chi.URLParam(r, "model")

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	switch req.Status {
	case models.StatusAvailable, models.StatusUnavailable, models.StatusInstalling:
	default:
		respondError(w, http.StatusBadRequest, "status must be available, unavailable, or installing")
		return
	}

	if err := h.Service.SetModelStatus(id, req.Status); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
}

// ── Observability ───────────────────────────────────────────

func (h *Handlers) ListTraces(w http.ResponseWriter, r *http.Request) {
	filter := store.TraceFilter{
		Operation: r.URL.Query().Get("operation"),
		Provider:  r.URL.Query().Get("provider"),
		Status:    r.URL.Query().Get("status"),
		Limit:     queryInt(r, "limit", 100),
	}
	traces, err := h.Service.ListTraces(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if traces == nil {
		traces = []models.Trace{}
	}
	respondJSON(w, http.StatusOK, traces)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Service.ListRuns(r.Context(), r.URL.Query().Get("kind"), queryInt(r, "limit", 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.WorkflowRun{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// ── Health & Version ────────────────────────────────────────

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if !h.Service.Health(r.Context()) {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"name":    "inkstone-ai-core",
		"version": h.Version,
	})
}

// ── Helpers ─────────────────────────────────────────────────

// respondServiceError maps core errors onto status codes. Exhausted chains
// are 503 so callers know to back off; client cancellation gets no response
// body because nobody is listening.
func (h *Handlers) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return
	}
	if errors.Is(err, manager.ErrAllProvidersExhausted) {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"code":  "all_providers_exhausted",
			"error": "no provider could serve the request",
		})
		return
	}
	respondError(w, http.StatusBadGateway, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
