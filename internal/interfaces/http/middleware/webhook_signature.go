package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/infrastructure/payment"
	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/academy/backend/internal/interfaces/http/dto"
)

// WebhookSignatureHeader carries the hex HMAC-SHA256 of the raw body
const WebhookSignatureHeader = "X-PaysSam-Signature"

// WebhookSignatureConfig configures WebhookSignature
type WebhookSignatureConfig struct {
	// Secret is the shared key. An empty secret disables the check.
	Secret  string
	Metrics *telemetry.BillingMetrics
}

// WebhookSignature rejects gateway notifications whose signature does not
// match the body. The gateway only understands its own ack envelope, so a
// rejection is still HTTP 200 with the invalid-input code. The body is put
// back for the handler.
func WebhookSignature(cfg WebhookSignatureConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Secret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil || !payment.VerifyWebhookSignature(cfg.Secret, body, c.GetHeader(WebhookSignatureHeader)) {
			log := logger.GetGinLogger(c)
			if err != nil {
				log.Warn("Webhook body unreadable", zap.Error(err))
			} else {
				log.Warn("Webhook signature mismatch", zap.Int("body_size", len(body)))
			}
			cfg.Metrics.RecordWebhook(c.Request.Context(), billing.AckInvalidInput)
			c.AbortWithStatusJSON(http.StatusOK, dto.WebhookAck{
				Code: billing.AckInvalidInput,
				Msg:  billing.AckMessage(billing.AckInvalidInput),
			})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
