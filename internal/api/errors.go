package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"example.com/movimentoterra/internal/domain"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Type   string            `json:"type"`
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{Type: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// fail maps a service error onto its HTTP status. Unexpected errors are logged and
// replaced with a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var validation *domain.ValidationError
	var refusal *domain.RefusalError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Type: "validation_failed", Detail: "dati non validi", Fields: validation.Fields})
	case errors.As(err, &refusal):
		writeError(w, http.StatusBadRequest, "refused", refusal.Message)
	case errors.Is(err, domain.ErrEditWindow):
		writeError(w, http.StatusForbidden, "edit_window", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrLastInteraction):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case domain.IsUserFacing(err):
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	default:
		h.logger.Error("unexpected error", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", domain.ErrLoadFailed.Error())
	}
}
