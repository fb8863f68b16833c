// Package errors provides structured error handling for TrustSignal
package errors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorCode represents an application error code
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrBadRequest ErrorCode = "BAD_REQUEST"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrTimeout    ErrorCode = "TIMEOUT"
	ErrRateLimit  ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Scoring errors
	ErrMalformedRequest    ErrorCode = "MALFORMED_REQUEST"
	ErrUnknownUseCase      ErrorCode = "UNKNOWN_USE_CASE"
	ErrCollaboratorTimeout ErrorCode = "COLLABORATOR_TIMEOUT"

	// Store errors
	ErrStore         ErrorCode = "STORE_ERROR"
	ErrWriteConflict ErrorCode = "WRITE_CONFLICT"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Err        error                  `json:"-"` // Original error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Internal creates an internal server error
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// MalformedRequest creates a payload validation error. This is the only
// error class the scoring pipeline surfaces to callers.
func MalformedRequest(details string) *AppError {
	return &AppError{
		Code:       ErrMalformedRequest,
		Message:    "Request payload failed validation",
		Details:    details,
		StatusCode: http.StatusBadRequest,
	}
}

// UnknownUseCase creates an error for an unrecognized use case value
func UnknownUseCase(useCase string) *AppError {
	return (&AppError{
		Code:       ErrUnknownUseCase,
		Message:    "Unknown use case",
		StatusCode: http.StatusBadRequest,
	}).WithMetadata("use_case", useCase)
}

// CollaboratorTimeout creates a timeout error for a ProfileStore or
// GeoResolver call. Never surfaced to callers; the affected signal is
// degraded to neutral instead.
func CollaboratorTimeout(collaborator string, err error) *AppError {
	return &AppError{
		Code:       ErrCollaboratorTimeout,
		Message:    fmt.Sprintf("Collaborator %s timed out", collaborator),
		StatusCode: http.StatusGatewayTimeout,
		Err:        err,
	}
}

// StoreError creates a profile-store error
func StoreError(operation string, err error) *AppError {
	return &AppError{
		Code:       ErrStore,
		Message:    "Profile store operation failed",
		Details:    operation,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WriteConflict creates an optimistic-concurrency conflict error
func WriteConflict(entity string) *AppError {
	return (&AppError{
		Code:       ErrWriteConflict,
		Message:    "Concurrent update conflict",
		StatusCode: http.StatusConflict,
	}).WithMetadata("entity", entity)
}

// RateLimit creates a rate limit error
func RateLimit(message string) *AppError {
	return &AppError{
		Code:       ErrRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

// ErrorResponse is the JSON response structure for errors
type ErrorResponse struct {
	Error     ErrorCode              `json:"error"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HandleError sends an error response to the client
func HandleError(c *gin.Context, err error) {
	var appErr *AppError
	var ok bool

	if appErr, ok = err.(*AppError); !ok {
		appErr = Internal("An unexpected error occurred", err)
	}

	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	response := ErrorResponse{
		Error:     appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Metadata:  appErr.Metadata,
		RequestID: reqIDStr,
	}

	c.JSON(appErr.StatusCode, response)
}

// ErrorHandler is a middleware that handles panics and converts them to errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				var appErr *AppError

				switch e := err.(type) {
				case *AppError:
					appErr = e
				case error:
					appErr = Internal("Internal server error", e)
				default:
					appErr = Internal("Internal server error", fmt.Errorf("%v", err))
				}

				HandleError(c, appErr)
				c.Abort()
			}
		}()

		c.Next()
	}
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// GetStatusCode returns the HTTP status code for an error
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
