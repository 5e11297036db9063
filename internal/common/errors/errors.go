// Package errors provides structured error handling for StepGate
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

	// Configuration errors - fatal, surfaced to operators, never retried
	ErrConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	ErrMethodUnsupported ErrorCode = "METHOD_UNSUPPORTED"

	// Authentication flow errors
	ErrSessionNotFound      ErrorCode = "SESSION_NOT_FOUND"
	ErrChallengeNotFound    ErrorCode = "CHALLENGE_NOT_FOUND"
	ErrChallengeExpired     ErrorCode = "CHALLENGE_EXPIRED"
	ErrAttemptsExceeded     ErrorCode = "ATTEMPTS_EXCEEDED"
	ErrAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrInvalidResponse      ErrorCode = "INVALID_RESPONSE"
	ErrInvalidState         ErrorCode = "INVALID_SESSION_STATE"
	ErrMethodNotEnrolled    ErrorCode = "METHOD_NOT_ENROLLED"
	ErrApprovalPending      ErrorCode = "APPROVAL_PENDING"

	// Storage errors
	ErrStorage ErrorCode = "STORAGE_ERROR"
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

// Predefined errors

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

// ValidationError creates a validation error
func ValidationError(message string) *AppError {
	return &AppError{
		Code:       ErrValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// Configuration creates a configuration error. These indicate operator
// mistakes (bad policy table, unknown method id) and are never retried.
func Configuration(message string) *AppError {
	return &AppError{
		Code:       ErrConfiguration,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// MethodUnsupported creates an error for a method id missing from the catalog
func MethodUnsupported(methodID string) *AppError {
	return (&AppError{
		Code:       ErrMethodUnsupported,
		Message:    "Authentication method is not supported",
		StatusCode: http.StatusInternalServerError,
	}).WithMetadata("method_id", methodID)
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *AppError {
	return (&AppError{
		Code:       ErrSessionNotFound,
		Message:    "Authentication session not found",
		StatusCode: http.StatusNotFound,
	}).WithMetadata("session_id", sessionID)
}

// ChallengeNotFound creates a challenge not found error
func ChallengeNotFound(challengeID string) *AppError {
	return (&AppError{
		Code:       ErrChallengeNotFound,
		Message:    "Challenge not found",
		StatusCode: http.StatusNotFound,
	}).WithMetadata("challenge_id", challengeID)
}

// ChallengeExpired creates a challenge expired error. Terminal for the
// session; the caller must restart authentication.
func ChallengeExpired(challengeID string) *AppError {
	return (&AppError{
		Code:       ErrChallengeExpired,
		Message:    "Challenge has expired, restart authentication",
		StatusCode: http.StatusUnauthorized,
	}).WithMetadata("challenge_id", challengeID)
}

// AttemptsExceeded creates a terminal attempts exceeded error
func AttemptsExceeded(methodID string) *AppError {
	return (&AppError{
		Code:       ErrAttemptsExceeded,
		Message:    "Maximum verification attempts exceeded",
		StatusCode: http.StatusUnauthorized,
	}).WithMetadata("method_id", methodID).WithMetadata("attempts_remaining", 0)
}

// AuthenticationFailed creates a terminal authentication failure
func AuthenticationFailed() *AppError {
	return &AppError{
		Code:       ErrAuthenticationFailed,
		Message:    "Authentication failed",
		StatusCode: http.StatusUnauthorized,
	}
}

// InvalidResponse creates a recoverable verification failure carrying the
// remaining attempt count. The session stays in progress.
func InvalidResponse(attemptsRemaining int) *AppError {
	return (&AppError{
		Code:       ErrInvalidResponse,
		Message:    "Verification failed",
		StatusCode: http.StatusUnauthorized,
	}).WithMetadata("attempts_remaining", attemptsRemaining)
}

// InvalidState creates an error for operations against a session that is
// not in a verifiable state (completed, failed, or no outstanding challenge)
func InvalidState(message string) *AppError {
	return &AppError{
		Code:       ErrInvalidState,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// ApprovalPending signals that a push prompt has not been answered yet.
// Polling does not consume a verification attempt.
func ApprovalPending(challengeID string) *AppError {
	return (&AppError{
		Code:       ErrApprovalPending,
		Message:    "Approval is still pending",
		StatusCode: http.StatusTooEarly,
	}).WithMetadata("challenge_id", challengeID)
}

// MethodNotEnrolled creates an error for a method the user has not enrolled
func MethodNotEnrolled(methodID string) *AppError {
	return (&AppError{
		Code:       ErrMethodNotEnrolled,
		Message:    "User is not enrolled in the requested method",
		StatusCode: http.StatusBadRequest,
	}).WithMetadata("method_id", methodID)
}

// StorageError creates a storage error
func StorageError(operation string, err error) *AppError {
	return &AppError{
		Code:       ErrStorage,
		Message:    "Storage operation failed",
		Details:    operation,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
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

	// Check if it's an AppError
	if appErr, ok = err.(*AppError); !ok {
		// If not, wrap it as an internal error
		appErr = Internal("An unexpected error occurred", err)
	}

	// Get request ID from context
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
