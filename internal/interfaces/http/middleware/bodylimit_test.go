package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/academy/backend/internal/infrastructure/logger"
)

func TestBodyLimit(t *testing.T) {
	router := gin.New()
	router.Use(BodyLimit(16))
	router.POST("/test", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	t.Run("within limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("small")))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("declared length over limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(strings.Repeat("a", 64))))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), "PAYLOAD_TOO_LARGE")
	})

	t.Run("streamed body over limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", io.NopCloser(strings.NewReader(strings.Repeat("a", 64))))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestWebhookBodyLimit(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	reached := false

	router := gin.New()
	router.Use(logger.GinMiddleware(zap.New(core)), WebhookBodyLimit(16))
	router.POST("/webhook", func(c *gin.Context) {
		reached = true
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.JSON(http.StatusOK, gin.H{"code": "9001"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": "0000"})
	})

	t.Run("declared length over limit answers with the invalid ack", func(t *testing.T) {
		reached = false
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(strings.Repeat("a", 64))))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"code":"9001","msg":"invalid request"}`, rec.Body.String())
		assert.False(t, reached)

		entries := logs.FilterMessage("Webhook body too large").All()
		require.Len(t, entries, 1)
		assert.Equal(t, int64(64), entries[0].ContextMap()["content_length"])
	})

	t.Run("streamed body over limit fails the reader", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook", io.NopCloser(strings.NewReader(strings.Repeat("a", 64))))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"code":"9001"}`, rec.Body.String())
	})

	t.Run("within limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("bill_id=1")))
		assert.JSONEq(t, `{"code":"0000"}`, rec.Body.String())
	})
}
