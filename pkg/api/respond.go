package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/droverhq/drover/pkg/registry"
	"github.com/droverhq/drover/pkg/task"
)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorBody{Error: message, Details: details})
}

// respondError maps domain errors onto the ingress status codes. Internal
// details never reach the client.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound), errors.Is(err, registry.ErrNotRegistered):
		writeError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, task.ErrIllegalTransition):
		writeError(w, http.StatusBadRequest, "illegal transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20))
	if err := dec.Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return false
	}
	return true
}
