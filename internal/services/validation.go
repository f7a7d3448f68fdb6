package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/walletpay/backend/internal/models"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(validationErr, &fieldErrs) {
			errorResp.Details = make(map[string]string)
			for _, err := range fieldErrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendDomainError maps the typed error taxonomy onto HTTP statuses. The
// mapping lives here so the engine itself stays transport-free.
func SendDomainError(w http.ResponseWriter, err error) {
	var validationErr *models.ValidationError
	var notFoundErr *models.EntityNotFoundError
	var unavailableErr *models.CollaboratorUnavailableError
	var persistenceErr *models.PersistenceError

	switch {
	case errors.As(err, &validationErr):
		SendErrorResponse(w, validationErr.Error(), http.StatusBadRequest, nil)
	case errors.As(err, &notFoundErr):
		SendErrorResponse(w, notFoundErr.Error(), http.StatusNotFound, nil)
	case errors.Is(err, models.ErrInsufficientFunds):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.As(err, &unavailableErr):
		SendErrorResponse(w, "User service is temporarily unavailable", http.StatusServiceUnavailable, nil)
	case errors.As(err, &persistenceErr):
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
	default:
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
