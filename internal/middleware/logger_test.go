package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerRecordsQueryAndUser(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	userID := uuid.New()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(ContextUserID, userID) })
	r.Use(Logger(zap.New(core)))
	r.GET("/api/videos/:id/stream", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/videos/abc/stream?path=videos/x/720p/index.m3u8", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/api/videos/abc/stream", fields["path"])
	assert.Equal(t, "path=videos/x/720p/index.m3u8", fields["query"])
	assert.Equal(t, userID.String(), fields["user_id"])
}

func TestLoggerOmitsAbsentFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.NotContains(t, fields, "query")
	assert.NotContains(t, fields, "user_id")
}
