package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/metergate/metergate/internal/domain"
)

// errorBody is the error envelope for every failed request.
type errorBody struct {
	Detail string `json:"detail"`
}

// writeError converts err to the canonical taxonomy and writes the JSON error
// envelope. Errors that are not *domain.APIError are masked as a generic
// server error so internal details never cross the boundary.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		apiErr = domain.ErrServer("internal server error")
	}

	writeJSON(w, apiErr.HTTPStatusCode(), errorBody{Detail: apiErr.Message})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
