package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"
)

// ErrorCode classifies an error response.
type ErrorCode string

const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeValidation       ErrorCode = "validation_error"
	CodeNotFound         ErrorCode = "not_found"
	CodeConflict         ErrorCode = "conflict"
	CodeDeploymentFailed ErrorCode = "deployment_failed"
	CodeInternal         ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details []string  `json:"details,omitempty"`
}

// writeJSON sends data with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string, details ...string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message, Details: details}})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, CodeBadRequest, message)
}

func conflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, CodeConflict, message)
}

// internalError logs err and hides it from the client.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	logr.FromContextOrDiscard(r.Context()).Error(err, "internal error", "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}
