package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/malbeclabs/dispatch/api/handlers/dberror"
	"github.com/malbeclabs/dispatch/api/metrics"
	"github.com/malbeclabs/dispatch/distributor/pkg/tree"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorResponse(w http.ResponseWriter, status int, kind, message string) {
	metrics.ErrorResponsesTotal.WithLabelValues(kind).Inc()
	writeJSON(w, status, ErrorResponse{Error: kind, Message: message})
}

// StatusForKind maps a distribution error kind to its HTTP status.
func StatusForKind(kind tree.ErrorKind) int {
	switch kind.Category() {
	case tree.CategoryValidation, tree.CategoryArithmetic:
		return http.StatusBadRequest
	case tree.CategoryAuthorization:
		return http.StatusForbidden
	case tree.CategoryNotFound:
		return http.StatusNotFound
	case tree.CategoryState:
		return http.StatusConflict
	case tree.CategoryProof:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError replies with the status and kind err maps to. Errors that are not distribution
// rule violations are logged and reported.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var kind tree.ErrorKind
	if errors.As(err, &kind) {
		writeErrorResponse(w, StatusForKind(kind), string(kind), err.Error())
		return
	}

	if dberror.IsTransient(err) {
		h.log.Warn("api: transient storage error", "path", r.URL.Path, "error", err)
		writeErrorResponse(w, http.StatusServiceUnavailable, "Unavailable", dberror.UserMessage(err))
		return
	}

	h.log.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
	}
	writeErrorResponse(w, http.StatusInternalServerError, "Internal", "internal error")
}

func badRequest(w http.ResponseWriter, message string) {
	writeErrorResponse(w, http.StatusBadRequest, "BadRequest", message)
}
