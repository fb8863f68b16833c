// Package middleware provides HTTP middleware for TrustSignal services
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	Logger *zap.Logger
	// ReturnStackTrace echoes the stack in the response body. Development only.
	ReturnStackTrace bool
}

// Recovery returns a middleware that recovers from handler panics, logs the
// stack with the request's correlation ID and answers 500 with a JSON body.
// A panicking evaluator must never take the whole scoring edge down.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return RecoveryWithConfig(RecoveryConfig{Logger: logger})
}

// RecoveryWithConfig returns a recovery middleware with custom configuration.
func RecoveryWithConfig(cfg RecoveryConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				correlationID := GetRequestID(c)
				if correlationID == "" {
					correlationID = uuid.New().String()
				}
				stack := debug.Stack()

				cfg.Logger.Error("Panic recovered",
					zap.String("correlation_id", correlationID),
					zap.String("panic", fmt.Sprintf("%v", err)),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("ip", c.ClientIP()),
					zap.ByteString("stack_trace", stack))

				body := gin.H{
					"error":          "internal server error",
					"correlation_id": correlationID,
					"timestamp":      time.Now().UTC().Format(time.RFC3339),
				}
				if cfg.ReturnStackTrace {
					body["stack_trace"] = string(stack)
				}
				c.Header(HeaderXRequestID, correlationID)
				c.AbortWithStatusJSON(http.StatusInternalServerError, body)
			}
		}()

		c.Next()
	}
}
