package router

import (
	"github.com/gin-gonic/gin"

	"github.com/academy/backend/internal/interfaces/http/handler"
	"github.com/academy/backend/internal/interfaces/http/middleware"
)

// BillingRoutesConfig wires the billing handlers to their guards
type BillingRoutesConfig struct {
	Billing *handler.BillingHandler
	Webhook *handler.PaymentWebhookHandler
	// Auth authenticates staff requests
	Auth gin.HandlerFunc
	// WebhookSignature authenticates gateway deliveries
	WebhookSignature gin.HandlerFunc
	// MaxBodySize caps request bodies on both groups; 0 disables the cap
	MaxBodySize int64
}

// BillingRoutes returns the public webhook group and the staff billing group.
//
//	POST /webhooks/paysam
//	/billing/...   JWT + billing:* permissions
func BillingRoutes(cfg BillingRoutesConfig) []RouteRegistrar {
	webhooks := NewDomainGroup("webhooks", "/webhooks").
		Use(middleware.WebhookBodyLimit(cfg.MaxBodySize))
	if cfg.WebhookSignature != nil {
		webhooks.Use(cfg.WebhookSignature)
	}
	webhooks.POST("/paysam", cfg.Webhook.HandlePaysSamNotification)

	read := middleware.RequirePermission(middleware.PermBillingRead)
	manage := middleware.RequirePermission(middleware.PermBillingManage)
	settle := middleware.RequirePermission(middleware.PermBillingSettle)

	h := cfg.Billing
	staff := NewDomainGroup("billing", "/billing").
		Use(middleware.BodyLimit(cfg.MaxBodySize))
	if cfg.Auth != nil {
		staff.Use(cfg.Auth)
	}

	charges := staff.Group("charges", "/charges")
	charges.POST("/:id/send", manage, h.SendBill).
		POST("/:id/resend", manage, h.ResendBill).
		POST("/:id/sync", manage, h.SyncBill).
		POST("/:id/cancel", manage, h.CancelBill).
		POST("/:id/destroy", manage, h.DestroyBill).
		POST("/:id/split", manage, h.SplitCharge)
	charges.GET("/:id", read, h.GetCharge).
		GET("/:id/bills", read, h.ListBills).
		GET("/:id/events", read, h.ListEvents)

	staff.Group("bills", "/bills").GET("/:bill_id", read, h.GetBill)
	staff.Group("gateway", "/gateway").GET("/balance", read, h.GetGatewayBalance)
	staff.POST("/offline-settlements", settle, h.SettleOffline)

	return []RouteRegistrar{webhooks, staff}
}
