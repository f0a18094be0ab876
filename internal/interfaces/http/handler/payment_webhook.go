package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appbilling "github.com/academy/backend/internal/application/billing"
	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/interfaces/http/dto"
)

// NotificationProcessor folds one gateway delivery into local state
type NotificationProcessor interface {
	ProcessNotification(ctx context.Context, raw []byte, contentType string) *appbilling.WebhookResult
}

// PaymentWebhookHandler receives PaysSam payment notifications. The endpoint
// is public; authenticity is checked by the signature middleware.
type PaymentWebhookHandler struct {
	processor NotificationProcessor
}

// NewPaymentWebhookHandler creates a new PaymentWebhookHandler
func NewPaymentWebhookHandler(processor NotificationProcessor) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{processor: processor}
}

// HandlePaysSamNotification godoc
//
//	@Summary		Handle PaysSam payment notification
//	@Description	Apply an approval notification. Always answers HTTP 200; the body code tells the gateway whether to retry.
//	@Tags			webhooks
//	@Accept			json,application/x-www-form-urlencoded
//	@Produce		json
//	@Param			X-PaysSam-Signature	header		string			false	"hex HMAC-SHA256 of the body"
//	@Success		200					{object}	dto.WebhookAck	"code=0000 on success"
//	@Router			/webhooks/paysam [post]
func (h *PaymentWebhookHandler) HandlePaysSamNotification(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.GetGinLogger(c).Error("Webhook handler panic", zap.Any("panic", r), zap.Stack("stacktrace"))
			ack(c, billing.AckInternalError, billing.AckMessage(billing.AckInternalError))
		}
	}()

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		logger.GetGinLogger(c).Warn("Webhook body unreadable", zap.Error(err))
		ack(c, billing.AckInvalidInput, billing.AckMessage(billing.AckInvalidInput))
		return
	}

	res := h.processor.ProcessNotification(c.Request.Context(), raw, c.ContentType())
	ack(c, res.AckCode, res.AckMessage)
}

func ack(c *gin.Context, code, msg string) {
	c.JSON(http.StatusOK, dto.WebhookAck{Code: code, Msg: msg})
}
