package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"retouch_backend/orchestrator"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already out; nothing useful to do with an encode error.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail, Kind: kind})
}

// writeFormError reports an unreadable request body.
func writeFormError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeError(w, http.StatusRequestEntityTooLarge, string(orchestrator.FailureValidation),
			fmt.Sprintf("request body exceeds %d bytes", maxBytes.Limit))
		return
	}
	badRequest(w, "invalid form: "+err.Error())
}

func errMissing(field string) error {
	return fmt.Errorf("%s is required", field)
}

func errInvalid(field, value string) error {
	return fmt.Errorf("%s is invalid: %q", field, value)
}

// writeFailure maps a Process or Health error to a status: validation
// failures are the client's fault, everything else is a server error.
func writeFailure(w http.ResponseWriter, err error) {
	f, ok := orchestrator.AsFailure(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	status := http.StatusInternalServerError
	if f.Kind == orchestrator.FailureValidation {
		status = http.StatusBadRequest
	}
	writeError(w, status, string(f.Kind), f.Message)
}

func badRequest(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusBadRequest, string(orchestrator.FailureValidation), detail)
}
