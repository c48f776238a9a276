package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/treeapp/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps domain errors to HTTP status codes; 0 means unexpected.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidName),
		errors.Is(err, apperr.ErrInvalidType),
		errors.Is(err, apperr.ErrInvalidStatus),
		errors.Is(err, apperr.ErrInvalidQuery),
		errors.Is(err, apperr.ErrInvalidOutline):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrCycleDetected),
		errors.Is(err, apperr.ErrSelfParent),
		errors.Is(err, apperr.ErrNotAFolder),
		errors.Is(err, apperr.ErrAlreadyParented),
		errors.Is(err, apperr.ErrInvalidRoot):
		return http.StatusConflict
	}
	return 0
}

// writeError answers with the mapped status and the error text, or logs
// and answers 500 for anything outside the domain taxonomy.
func writeError(w http.ResponseWriter, op string, err error, attrs ...slog.Attr) {
	if status := statusFor(err); status != 0 {
		writeJSON(w, status, errorBody(err.Error()))
		return
	}
	args := []any{slog.String("error", err.Error())}
	for _, a := range attrs {
		args = append(args, a)
	}
	slog.Error(op+" failed", args...)
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}
