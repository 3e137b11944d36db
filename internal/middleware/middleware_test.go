package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"device-bridge/internal/config"
	"device-bridge/internal/model"
	"device-bridge/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(utils.RequestIDKey))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc-123", w.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	router := gin.New()
	router.Use(RequestIDMiddleware(), RecoveryMiddleware(zap.New(core)))
	router.GET("/cmd/:id", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/cmd/7", nil)
	req.Header.Set(RequestIDHeader, "req-9")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "UNKNOWN", body.Error.Code)
	assert.Equal(t, "panic while serving GET /cmd/:id", body.Error.Details)
	assert.False(t, body.Error.Retryable)
	assert.Equal(t, "req-9", body.RequestID)

	entries := logs.FilterMessage("Handler panicked").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "/cmd/:id", fields["route"])
	assert.Equal(t, false, fields["response_started"])
}

func TestRecoveryMiddleware_ResponseAlreadyStarted(t *testing.T) {
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop()))
	router.GET("/data", func(c *gin.Context) {
		c.String(http.StatusOK, "<status>ok")
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/data", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<status>ok", w.Body.String())
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := utils.NewServiceLogger(zap.New(core), "http-server")

	exchange := &model.WireExchange{
		ID:          uuid.New(),
		Response:    []byte("OK ARMED"),
		StartedAt:   time.Now().Add(-40 * time.Millisecond),
		CompletedAt: time.Now(),
		Termination: model.TerminationTimeout,
		Partial:     true,
	}

	router := gin.New()
	router.Use(RequestIDMiddleware(), LoggingMiddleware(logger))
	router.GET("/data", func(c *gin.Context) {
		c.Set(utils.ExchangeKey, exchange)
		c.Status(http.StatusOK)
	})
	router.POST("/cmd", func(c *gin.Context) {
		utils.BridgeErrorResponse(c, http.StatusBadRequest, false, model.NewDeviceRejected("zone 2 is bypassed"))
	})

	req := httptest.NewRequest(http.MethodGet, "/data?zone=1", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	router.ServeHTTP(httptest.NewRecorder(), req)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/cmd", nil))

	entries := logs.FilterMessage("API request").All()
	require.Len(t, entries, 2)

	read := entries[0]
	assert.Equal(t, zapcore.WarnLevel, read.Level, "partial replies log at warn")
	fields := read.ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "/data", fields["route"])
	assert.Equal(t, exchange.ID.String(), fields["exchange_id"])
	assert.Equal(t, "timeout", fields["termination"])
	assert.Equal(t, true, fields["partial"])
	assert.EqualValues(t, len("OK ARMED"), fields["reply_bytes"])
	assert.NotContains(t, fields, "error_kind")

	rejected := entries[1]
	assert.Equal(t, zapcore.WarnLevel, rejected.Level)
	fields = rejected.ContextMap()
	assert.Equal(t, "DEVICE_REJECTED", fields["error_kind"])
	assert.EqualValues(t, http.StatusBadRequest, fields["status_code"])
	assert.NotEmpty(t, fields["request_id"])
	assert.NotContains(t, fields, "exchange_id")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		expect  string
	}{
		{"wildcard", []string{"*"}, "http://panel.local", "*"},
		{"listed origin", []string{"http://ops.local"}, "http://ops.local", "http://ops.local"},
		{"unlisted origin", []string{"http://ops.local"}, "http://evil.local", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORSMiddleware(&config.SecurityConfig{AllowedOrigins: tt.allowed}))
			router.GET("/info", func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/info", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expect, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
