package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/api/middleware"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/lifecycle"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/pipeline"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/spec"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
)

// APIError represents a structured API error response.
type APIError struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`

	// AlertSpecifications carries specs already persisted before a run
	// was interrupted.
	AlertSpecifications []spec.Envelope `json:"alert_specifications,omitempty"`

	// PendingSpecifications carries specs that were built but could not be
	// persisted, for manual resubmission.
	PendingSpecifications []spec.Envelope `json:"pending_specifications,omitempty"`
}

// Error codes
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeMissingResolutionNotes = "MISSING_RESOLUTION_NOTES"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeIntegration            = "INTEGRATION_ERROR"
	ErrCodeInterrupted            = "DETECTION_INTERRUPTED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondStructuredError(w http.ResponseWriter, r *http.Request, status int, apiErr APIError) {
	apiErr.Error = http.StatusText(status)
	apiErr.RequestID = middleware.RequestIDFromContext(r.Context())
	respondJSON(w, status, apiErr)
}

func respondValidation(w http.ResponseWriter, r *http.Request, message string, details map[string]string) {
	respondStructuredError(w, r, http.StatusBadRequest, APIError{
		Code:    ErrCodeValidation,
		Message: message,
		Details: details,
	})
}

// respondDomainError maps an error kind onto its status and code. Unknown
// errors are reported as internal without leaking their text.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *observation.ValidationError
		terr *alert.TransitionError
		ierr *pipeline.IntegrationError
	)
	switch {
	case errors.As(err, &verr):
		details := map[string]string{"field": verr.Field}
		if verr.Index >= 0 {
			details["index"] = itoa(verr.Index)
		}
		respondValidation(w, r, verr.Error(), details)
	case errors.Is(err, lifecycle.ErrInvalidRequest):
		respondValidation(w, r, err.Error(), nil)
	case errors.Is(err, alert.ErrMissingResolutionNotes):
		respondStructuredError(w, r, http.StatusBadRequest, APIError{
			Code:    ErrCodeMissingResolutionNotes,
			Message: err.Error(),
		})
	case errors.Is(err, alert.ErrInvalidTransition):
		apiErr := APIError{Code: ErrCodeInvalidTransition, Message: err.Error()}
		if errors.As(err, &terr) {
			apiErr.Details = map[string]string{"operation": terr.Op, "status": string(terr.From)}
		}
		respondStructuredError(w, r, http.StatusConflict, apiErr)
	case errors.Is(err, store.ErrNotFound):
		respondStructuredError(w, r, http.StatusNotFound, APIError{
			Code:    ErrCodeNotFound,
			Message: err.Error(),
		})
	case errors.As(err, &ierr):
		respondStructuredError(w, r, http.StatusBadGateway, APIError{
			Code:    ErrCodeIntegration,
			Message: err.Error(),
		})
	case interrupted(err):
		respondStructuredError(w, r, http.StatusServiceUnavailable, APIError{
			Code:    ErrCodeInterrupted,
			Message: "request was cancelled or timed out",
		})
	default:
		respondStructuredError(w, r, http.StatusInternalServerError, APIError{
			Code:    ErrCodeInternal,
			Message: "internal error",
		})
	}
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
