package command

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/goodtune/ptrack/internal/metrics"
)

// apiRequest is the JSON body accepted by the dispatch endpoint.
type apiRequest struct {
	Command string `json:"command"`
	Admin   bool   `json:"admin"`
}

type apiError struct {
	Error string `json:"error"`
}

// APIHandler serves command dispatch over HTTP: POST a JSON body with the
// raw command line, get the structured reply back.
type APIHandler struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewAPIHandler wraps a registry for HTTP dispatch.
func NewAPIHandler(registry *Registry, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		registry: registry,
		logger:   logger.With().Str("component", "command-api").Logger(),
	}
}

func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "POST only"})
		return
	}

	var req apiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body"})
		return
	}

	reply, err := h.registry.Dispatch(r.Context(), req.Command, req.Admin)
	name := "unknown"
	if parts := splitName(req.Command); parts != "" {
		name = parts
	}

	switch {
	case err == nil:
		metrics.CommandsTotal.WithLabelValues(name, "ok").Inc()
		writeJSON(w, http.StatusOK, reply)
	case errors.Is(err, ErrUnknownCommand):
		metrics.CommandsTotal.WithLabelValues(name, "unknown").Inc()
		writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
	case errors.Is(err, ErrPermissionDenied):
		metrics.CommandsTotal.WithLabelValues(name, "denied").Inc()
		writeJSON(w, http.StatusForbidden, apiError{Error: err.Error()})
	default:
		var usage *UsageError
		if errors.As(err, &usage) {
			metrics.CommandsTotal.WithLabelValues(name, "usage").Inc()
			writeJSON(w, http.StatusBadRequest, apiError{Error: usage.Error()})
			return
		}
		metrics.CommandsTotal.WithLabelValues(name, "error").Inc()
		h.logger.Error().Err(err).Str("command", req.Command).Msg("Command failed")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal error"})
	}
}

func splitName(line string) string {
	for i, c := range line {
		if c == ' ' {
			return line[:i]
		}
	}
	return line
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
