package billing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/infrastructure/telemetry"
)

// WebhookServiceConfig wires a WebhookService
type WebhookServiceConfig struct {
	Store   billing.Store
	Decoder billing.NotificationDecoder
	Metrics *telemetry.BillingMetrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

// WebhookResult is the acknowledgement returned to the gateway together with
// what the delivery did
type WebhookResult struct {
	AckCode       string
	AckMessage    string
	GatewayBillID string
	Outcome       *billing.ApprovalOutcome
	AuditStatus   AuditStatus
}

// WebhookService applies PaysSam payment notifications
type WebhookService struct {
	decoder billing.NotificationDecoder
	store   billing.Store
	applier *approvalApplier
	metrics *telemetry.BillingMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewWebhookService creates a new WebhookService
func NewWebhookService(cfg WebhookServiceConfig) *WebhookService {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &WebhookService{
		decoder: cfg.Decoder,
		store:   cfg.Store,
		applier: &approvalApplier{store: cfg.Store, audit: auditor{metrics: cfg.Metrics, logger: log}, logger: log},
		metrics: cfg.Metrics,
		logger:  log,
		now:     clock,
	}
}

// ProcessNotification handles one delivery. It never returns an error: every
// failure is expressed as an acknowledgement code, and anything other than
// AckSuccess makes the gateway deliver again.
func (s *WebhookService) ProcessNotification(ctx context.Context, raw []byte, contentType string) (res *WebhookResult) {
	receivedAt := s.now()
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "webhook")
	log := logger.L(ctx, s.logger)

	res = &WebhookResult{}
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing webhook", zap.Any("panic", r), zap.Stack("stack"))
			res = &WebhookResult{GatewayBillID: res.GatewayBillID}
			res.ack(billing.AckInternalError)
		}
		telemetry.SetAttributes(span,
			telemetry.SpanAttrAckCode, res.AckCode,
			telemetry.SpanAttrGatewayBillID, res.GatewayBillID)
		span.End()
		s.metrics.RecordWebhook(ctx, res.AckCode)
	}()

	note, err := s.decoder.DecodeNotification(raw, contentType)
	if err != nil {
		log.Warn("rejected malformed webhook", zap.Error(err), zap.ByteString("body", raw))
		res.ack(billing.AckInvalidInput)
		return res
	}
	res.GatewayBillID = note.GatewayBillID
	log = log.With(zap.String("gateway_bill_id", note.GatewayBillID), zap.String("state", string(note.State)))

	bill, err := s.findBill(ctx, note.GatewayBillID)
	if err != nil {
		if billing.HasCode(err, billing.CodeNotFound) {
			log.Error("webhook for unknown bill", zap.ByteString("body", raw))
			res.ack(billing.AckUnknownBill)
			return res
		}
		log.Error("failed to look up bill for webhook", zap.Error(err))
		telemetry.RecordError(span, err)
		res.ack(billing.AckInternalError)
		return res
	}

	applied, err := s.applier.apply(ctx, approvalInput{
		BillID:        bill.ID,
		GatewayBillID: note.GatewayBillID,
		Observation:   note.Observation(receivedAt),
		Source:        billing.EventSourceWebhook,
		Operation:     billing.OperationWebhook,
		Payload:       raw,
	})
	if err != nil {
		code := billing.AckInternalError
		if billing.HasCode(err, billing.CodeNotFound) {
			code = billing.AckUnknownBill
		}
		log.Error("failed to apply webhook", zap.Error(err))
		telemetry.RecordError(span, err)
		res.ack(code)
		return res
	}

	outcome := applied.Outcome
	res.Outcome = &outcome
	res.AuditStatus = applied.AuditStatus
	res.ack(billing.AckSuccess)

	log.Info("webhook applied",
		zap.Bool("applied", outcome.Applied),
		zap.String("from", string(outcome.From)),
		zap.String("to", string(outcome.To)),
		zap.String("reason", outcome.Reason),
		zap.Bool("charge_changed", applied.ChargeChanged),
		zap.String("audit", string(applied.AuditStatus)))
	return res
}

// findBill resolves a gateway id to its bill. Ids replaced by a resend are no
// longer on any bill row and are found through the event log.
func (s *WebhookService) findBill(ctx context.Context, gatewayBillID string) (*billing.Bill, error) {
	bill, err := s.store.Bills().FindByGatewayBillID(ctx, gatewayBillID)
	if err == nil || !billing.HasCode(err, billing.CodeNotFound) {
		return bill, err
	}
	billID, lookupErr := s.store.Events().FindBillIDByGatewayBillID(ctx, gatewayBillID)
	if lookupErr != nil {
		if billing.HasCode(lookupErr, billing.CodeNotFound) {
			return nil, err
		}
		return nil, lookupErr
	}
	return s.store.Bills().FindByID(ctx, billID)
}

func (r *WebhookResult) ack(code string) {
	r.AckCode = code
	r.AckMessage = billing.AckMessage(code)
}
