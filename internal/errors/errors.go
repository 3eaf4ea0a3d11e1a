// Package errors maps domain and infrastructure failures onto categories,
// HTTP status codes and retry decisions.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vault-streak/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents invalid streak input (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryValidation represents invalid query parameters
	CategoryValidation ErrorCategory = "validation"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryDatabase represents store and archive failures
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents everything else (5xx)
	CategorySystem ErrorCategory = "system"
)

// Domain error codes carried by types.ServiceError
const (
	CodeInvalidWallet    = "INVALID_WALLET"
	CodeInvalidVault     = "INVALID_VAULT"
	CodeInvalidEventType = "INVALID_EVENT_TYPE"
	CodeInvalidTimestamp = "INVALID_TIMESTAMP"
	CodeInvalidAmount    = "INVALID_AMOUNT"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
)

type codeClass struct {
	category ErrorCategory
	status   int
}

// serviceCodes classifies the codes a types.ServiceError may carry
var serviceCodes = map[string]codeClass{
	CodeInvalidWallet:    {CategoryUserInput, http.StatusBadRequest},
	CodeInvalidVault:     {CategoryUserInput, http.StatusBadRequest},
	CodeInvalidEventType: {CategoryUserInput, http.StatusBadRequest},
	CodeInvalidTimestamp: {CategoryUserInput, http.StatusBadRequest},
	CodeInvalidAmount:    {CategoryUserInput, http.StatusBadRequest},
	CodeStoreUnavailable: {CategoryDatabase, http.StatusServiceUnavailable},
}

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a domain validation error for one input field
func NewValidationError(code, field, message string) *types.ServiceError {
	return &types.ServiceError{
		Code:    code,
		Message: message,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// NewStoreUnavailableError reports that the streak store could not be read or written.
// The message is fixed; the backend cause is kept for logs only.
func NewStoreUnavailableError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeStoreUnavailable,
		Message:    "streak store unavailable",
		Cause:      cause,
	}
}

// NewInvalidParameterError creates an invalid query or path parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit float64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"limit": limit,
		},
	}
}

// NewDatabaseError wraps a failed database operation
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize finds the CategorizedError or ServiceError in err's chain.
// Anything else is an internal error.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		class, ok := serviceCodes[svcErr.Code]
		if !ok {
			class = codeClass{CategorySystem, http.StatusInternalServerError}
		}
		return &CategorizedError{
			Category:   class.category,
			StatusCode: class.status,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether retrying the operation may succeed
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryDatabase:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
