package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	appbilling "github.com/academy/backend/internal/application/billing"
	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/auth"
	"github.com/academy/backend/internal/interfaces/http/handler"
	"github.com/academy/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithAPIVersion("v2"))

	group := NewDomainGroup("test", "/test")
	group.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	r.Register(group).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/test/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestDomainGroup_MiddlewareAndSubgroups(t *testing.T) {
	engine := gin.New()
	var order []string

	group := NewDomainGroup("outer", "/outer").Use(func(c *gin.Context) {
		order = append(order, "outer")
		c.Next()
	})
	group.Group("inner", "/inner").
		Use(func(c *gin.Context) {
			order = append(order, "inner")
			c.Next()
		}).
		POST("/x", func(c *gin.Context) {
			order = append(order, "handler")
			c.Status(http.StatusAccepted)
		})

	NewRouter(engine).Register(group).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/outer/inner/x", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

type ackProcessor struct{}

func (ackProcessor) ProcessNotification(context.Context, []byte, string) *appbilling.WebhookResult {
	return &appbilling.WebhookResult{AckCode: billing.AckSuccess, AckMessage: "success"}
}

// fakeAuth installs claims carrying perms
func fakeAuth(perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.JWTClaimsKey, &auth.Claims{UserID: uuid.NewString(), TenantID: uuid.NewString(), Permissions: perms})
		c.Next()
	}
}

func setupBillingEngine(authMW gin.HandlerFunc) *gin.Engine {
	engine := gin.New()
	NewRouter(engine).Register(BillingRoutes(BillingRoutesConfig{
		Billing: handler.NewBillingHandler(nil),
		Webhook: handler.NewPaymentWebhookHandler(ackProcessor{}),
		Auth:    authMW,
	})...).Setup()
	return engine
}

func TestBillingRoutes_Table(t *testing.T) {
	engine := setupBillingEngine(fakeAuth())

	var got []string
	for _, r := range engine.Routes() {
		got = append(got, r.Method+" "+r.Path)
	}
	sort.Strings(got)

	want := []string{
		"GET /api/v1/billing/bills/:bill_id",
		"GET /api/v1/billing/charges/:id",
		"GET /api/v1/billing/charges/:id/bills",
		"GET /api/v1/billing/charges/:id/events",
		"GET /api/v1/billing/gateway/balance",
		"POST /api/v1/billing/charges/:id/cancel",
		"POST /api/v1/billing/charges/:id/destroy",
		"POST /api/v1/billing/charges/:id/resend",
		"POST /api/v1/billing/charges/:id/send",
		"POST /api/v1/billing/charges/:id/split",
		"POST /api/v1/billing/charges/:id/sync",
		"POST /api/v1/billing/offline-settlements",
		"POST /api/v1/webhooks/paysam",
	}
	assert.Equal(t, want, got)
}

func TestBillingRoutes_Guards(t *testing.T) {
	t.Run("read-only staff cannot send", func(t *testing.T) {
		engine := setupBillingEngine(fakeAuth(middleware.PermBillingRead))
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/billing/charges/"+uuid.NewString()+"/send", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("managers cannot settle offline", func(t *testing.T) {
		engine := setupBillingEngine(fakeAuth(middleware.PermBillingManage))
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/billing/offline-settlements", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("webhook does not go through staff auth", func(t *testing.T) {
		engine := setupBillingEngine(func(c *gin.Context) {
			c.AbortWithStatus(http.StatusUnauthorized)
		})
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paysam", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, `{"code":"0000","msg":"success"}`, w.Body.String())
	})
}

func TestBillingRoutes_BodyLimit(t *testing.T) {
	engine := gin.New()
	NewRouter(engine).Register(BillingRoutes(BillingRoutesConfig{
		Billing:     handler.NewBillingHandler(nil),
		Webhook:     handler.NewPaymentWebhookHandler(ackProcessor{}),
		Auth:        fakeAuth(middleware.PermBillingSettle),
		MaxBodySize: 64,
	})...).Setup()
	oversized := strings.Repeat("a", 65)

	t.Run("oversized webhook is acked as invalid", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paysam", strings.NewReader("bill_id=PS-1&memo="+oversized))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"code":"9001","msg":"invalid request"}`, w.Body.String())
	})

	t.Run("webhook within the limit reaches the processor", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paysam", strings.NewReader("bill_id=PS-1")))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, `{"code":"0000","msg":"success"}`, w.Body.String())
	})

	t.Run("oversized staff request is refused", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/billing/offline-settlements", strings.NewReader(oversized)))

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "PAYLOAD_TOO_LARGE")
	})
}
