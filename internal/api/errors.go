package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/tao-dividends/internal/errors"
	"github.com/tao-dividends/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, svcErr *types.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: *svcErr})
}

// respondCategorized sends the response for a categorized error.
// Internal causes are never exposed to the client.
func respondCategorized(w http.ResponseWriter, err error) {
	cat := apperrors.Categorize(err)
	svcErr := cat.ToServiceError()
	if cat.StatusCode >= http.StatusInternalServerError && cat.Code == apperrors.CodeInternal {
		svcErr.Message = "An internal error occurred"
		svcErr.Details = nil
	}
	respondError(w, cat.StatusCode, svcErr)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
