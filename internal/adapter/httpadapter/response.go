package httpadapter

import (
	"errors"
	"net/http"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/weather-push-notifier/internal/domain"
)

var errMalformedBody = errors.New("malformed request body")

// envelope is the standard API response wrapper.
type envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []fieldError `json:"details,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	sharedobs.WriteJSON(w, status, envelope{Data: data})
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status, body := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	sharedobs.WriteJSON(w, status, envelope{Error: &body})
}

func mapError(err error) (int, apiError) {
	var validationErr *domain.ValidationError
	var storageErr *domain.StorageError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, apiError{
			Code:    "validation_error",
			Message: "Validation failed",
			Details: []fieldError{{Field: validationErr.Field, Message: validationErr.Message}},
		}
	case errors.Is(err, errMalformedBody):
		return http.StatusBadRequest, apiError{
			Code:    "invalid_body",
			Message: err.Error(),
		}
	case errors.Is(err, domain.ErrInvalidRegistration):
		return http.StatusBadRequest, apiError{
			Code:    "invalid_input",
			Message: err.Error(),
		}
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, apiError{
			Code:    "storage_error",
			Message: "The subscription store is unavailable",
		}
	default:
		return http.StatusInternalServerError, apiError{
			Code:    "internal_error",
			Message: "An unexpected error occurred",
		}
	}
}
