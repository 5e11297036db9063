// Package middleware provides HTTP middleware for the authentication service
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderXRequestID is the request ID header
const HeaderXRequestID = "X-Request-ID"

type contextKey string

// RequestIDKey is the context key under which the request ID is stored.
// Error responses read it to correlate failures with log lines.
const RequestIDKey contextKey = "request_id"

// GetRequestID retrieves the request ID from the Gin context
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(string(RequestIDKey)); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// GetRequestIDFromContext retrieves the request ID from a context.Context
func GetRequestIDFromContext(ctx context.Context) string {
	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// RequestID assigns each request a unique ID. An incoming X-Request-ID is
// honored so callers can correlate retries; otherwise a UUID is generated.
// The ID is stored in the Gin context, the request context, and echoed back
// in the response headers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(string(RequestIDKey), requestID)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), RequestIDKey, requestID))
		c.Header(HeaderXRequestID, requestID)

		c.Next()
	}
}
