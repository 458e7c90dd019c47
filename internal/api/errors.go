package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// Request errors raised before the ledger is reached
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondServiceError maps a ledger or service error onto its status code. extra is
// merged into the details, e.g. the partial result of a withdrawal that hit slippage.
func respondServiceError(w http.ResponseWriter, err error, extra map[string]interface{}) {
	catErr := apperrors.Categorize(err)

	message := catErr.Message
	if catErr.StatusCode >= http.StatusInternalServerError && catErr.Code == apperrors.CodeInternalError {
		message = "An internal error occurred"
	}

	var details map[string]interface{}
	if len(catErr.Details) > 0 || len(extra) > 0 {
		details = make(map[string]interface{}, len(catErr.Details)+len(extra))
		for k, v := range catErr.Details {
			details[k] = v
		}
		for k, v := range extra {
			details[k] = v
		}
	}

	respondError(w, catErr.StatusCode, catErr.Code, message, details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func invalidInput(w http.ResponseWriter, message string) {
	respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, message, nil)
}
