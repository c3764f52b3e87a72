package ingest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kaadipranav/lynex-sub000/internal/event"
)

// Machine-readable rejection codes returned by the gate.
const (
	CodeUnauthorized     = "unauthorized"
	CodeRateLimited      = "rate_limited"
	CodeValidationFailed = "validation_failed"
	CodeOverCapacity     = "over_capacity"
	CodeBatchTooLarge    = "batch_too_large"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal_error"
)

// APIError is the structured rejection body. RetryAfter is advisory seconds;
// zero means the client should not retry without changing the request.
type APIError struct {
	Status     int                     `json:"-"`
	Code       string                  `json:"code"`
	Message    string                  `json:"error"`
	RetryAfter int                     `json:"retry_after_seconds,omitempty"`
	Details    []event.ValidationError `json:"details,omitempty"`
}

func (e *APIError) Error() string { return e.Code + ": " + e.Message }

// Write renders the error as JSON and sets Retry-After when advisory.
func (e *APIError) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(e)
}
