package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hupe1980/convoflow/core"
)

const (
	msgInternal     = "Internal server error"
	msgOutputFormat = "Formato inválido de respuesta JSON"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps executor errors to HTTP statuses and caller-safe messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrConcurrencyViolation):
		return http.StatusConflict, "a run is already in progress for this thread"
	case errors.Is(err, core.ErrNoPendingInterrupt):
		return http.StatusConflict, "no pending interrupt for this thread"
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrOutputFormat):
		return http.StatusInternalServerError, msgOutputFormat
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.Join(core.ErrValidation, err)
	}
	return nil
}
