package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mediapp/medsched/internal/errs"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps sentinel errors onto HTTP status codes. Unrecognized errors
// become opaque 500s so storage details never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, errs.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "not allowed"})
	case errors.Is(err, errs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, errs.ErrAlreadyExists), errors.Is(err, errs.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "already exists"})
	case errors.Is(err, errs.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limited"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}
