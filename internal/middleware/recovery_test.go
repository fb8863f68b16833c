// Package middleware provides HTTP middleware for TrustSignal services
package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func recoveryRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.Use(handler)
	router.GET("/panic", func(c *gin.Context) {
		panic("evaluator exploded")
	})
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestRecovery_PanicReturns500(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	router := recoveryRouter(Recovery(zap.New(core)))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body["error"])
	assert.NotEmpty(t, body["correlation_id"])
	assert.NotContains(t, body, "stack_trace")

	// The panic is logged with the stack
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Panic recovered", entry.Message)
	assert.Equal(t, "evaluator exploded", entry.ContextMap()["panic"])
}

func TestRecovery_StackTraceInDevelopment(t *testing.T) {
	router := recoveryRouter(RecoveryWithConfig(RecoveryConfig{
		Logger:           zap.NewNop(),
		ReturnStackTrace: true,
	}))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["stack_trace"], "panic")
}

func TestRecovery_CorrelationIDFromRequest(t *testing.T) {
	router := recoveryRouter(Recovery(zap.NewNop()))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(HeaderXRequestID, "corr-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "corr-123", body["correlation_id"])
}

func TestRecovery_NormalRequestUntouched(t *testing.T) {
	router := recoveryRouter(Recovery(zap.NewNop()))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
