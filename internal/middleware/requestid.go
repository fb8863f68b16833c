// Package middleware provides HTTP middleware for TrustSignal services
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderXRequestID carries the correlation ID on requests and responses.
const HeaderXRequestID = "X-Request-ID"

type contextKey string

// RequestIDKey is the context key the correlation ID is stored under.
const RequestIDKey contextKey = "request_id"

// GetRequestID retrieves the correlation ID from the gin context.
func GetRequestID(c *gin.Context) string {
	if v, exists := c.Get(string(RequestIDKey)); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// GetRequestIDFromContext retrieves the correlation ID from a context.Context,
// for use below the handler layer.
func GetRequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(RequestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// ContextWithRequestID returns ctx carrying the correlation ID.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID assigns every request a correlation ID: the inbound X-Request-ID
// when the caller supplied one, a fresh UUID otherwise. The ID is stored in
// both the gin and request contexts and echoed on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(string(RequestIDKey), requestID)
		c.Request = c.Request.WithContext(ContextWithRequestID(c.Request.Context(), requestID))
		c.Header(HeaderXRequestID, requestID)

		c.Next()
	}
}
