package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"raidwatch/internal/apperr"
	"raidwatch/internal/service"
)

// Handler is the thin JSON surface over the orchestrator. It parses
// requests and renders outcomes; every decision lives in the service layer.
type Handler struct {
	orchestrator *service.Orchestrator
	logger       zerolog.Logger
}

func NewHandler(orchestrator *service.Orchestrator, logger zerolog.Logger) *Handler {
	return &Handler{orchestrator: orchestrator, logger: logger}
}

// Register mounts the API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/analyze", h.analyze)
	mux.HandleFunc("GET /api/jobs/{id}", h.jobStatus)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.cancelJob)
	mux.HandleFunc("GET /healthz", h.health)
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Wrap(apperr.KindBadRequest, err, "malformed request body"))
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, err)
		return
	}

	outcome, err := h.orchestrator.Analyze(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if outcome.Job != nil {
		h.writeJSON(w, http.StatusAccepted, outcome)
		return
	}
	h.writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	status, ok := h.orchestrator.JobStatus(id)
	if !ok {
		h.writeError(w, apperr.New(apperr.KindBadRequest, "unknown job %q", id))
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if !h.orchestrator.Cancel(id) {
		h.writeError(w, apperr.New(apperr.KindBadRequest, "job %q is not cancelable", id))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancel_requested"})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	h.writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"kind":  string(apperr.KindOf(err)),
	})
}
