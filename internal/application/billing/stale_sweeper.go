package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/infrastructure/telemetry"
)

// SweepConfig controls the stale bill sweep
type SweepConfig struct {
	// StaleAfter is how long a bill may sit in sent before it is polled
	StaleAfter time.Duration
	// BatchSize caps the bills polled per run
	BatchSize int
}

// DefaultSweepConfig returns the default sweep settings
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{StaleAfter: 24 * time.Hour, BatchSize: 50}
}

// SweepReport summarizes one sweep run
type SweepReport struct {
	Examined int
	Updated  int
	Failed   int
	// Drifted counts bills whose stored status disagrees with their event log
	Drifted int
}

// StaleBillSweeper polls the gateway for bills stuck in sent, covering
// webhooks the gateway never delivered
type StaleBillSweeper struct {
	service *ReconciliationService
	config  SweepConfig
	logger  *zap.Logger
}

// NewStaleBillSweeper creates a new StaleBillSweeper
func NewStaleBillSweeper(service *ReconciliationService, cfg SweepConfig, log *zap.Logger) *StaleBillSweeper {
	if log == nil {
		log = zap.NewNop()
	}
	defaults := DefaultSweepConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaults.StaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	return &StaleBillSweeper{service: service, config: cfg, logger: log}
}

// Sweep runs one pass. A failure on one bill does not stop the others.
func (w *StaleBillSweeper) Sweep(ctx context.Context) (report SweepReport, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "sweep")
	defer func() {
		telemetry.SetAttributes(span,
			"sweep.examined", report.Examined,
			"sweep.updated", report.Updated,
			"sweep.failed", report.Failed)
		endSpan(span, err)
	}()

	svc := w.service
	bills, err := svc.store.Bills().FindStaleSent(ctx, svc.now().Add(-w.config.StaleAfter), w.config.BatchSize)
	if err != nil {
		svc.metrics.RecordSweep(ctx, "error", 0)
		return report, err
	}

	log := logger.L(ctx, w.logger)
	for _, bill := range bills {
		if ctx.Err() != nil {
			break
		}
		report.Examined++

		res, err := svc.syncBill(ctx, bill, billing.EventSourceSweep, uuid.Nil)
		if err != nil {
			report.Failed++
			log.Warn("stale bill sync failed",
				zap.String("bill_id", bill.ID.String()),
				zap.String("gateway_bill_id", bill.GatewayBillID),
				zap.Bool("retryable", billing.IsRetryable(err)),
				zap.Error(err))
			continue
		}
		if res.Outcome != nil && res.Outcome.Applied && res.Outcome.From != res.Outcome.To {
			report.Updated++
		}
		if w.drifted(ctx, res.Bill) {
			report.Drifted++
		}
	}

	svc.metrics.RecordSweep(ctx, "success", report.Examined)
	log.Info("stale bill sweep finished",
		zap.Int("examined", report.Examined),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
		zap.Int("drifted", report.Drifted))
	return report, nil
}

// drifted compares the stored status with the one replayed from the event log
func (w *StaleBillSweeper) drifted(ctx context.Context, bill *billing.Bill) bool {
	if bill == nil {
		return false
	}
	events, err := w.service.store.Events().ListByBill(ctx, bill.ID)
	if err != nil {
		logger.L(ctx, w.logger).Warn("failed to load events for drift check", zap.String("bill_id", bill.ID.String()), zap.Error(err))
		return false
	}
	replayed := billing.ReplayBillStatus(events)
	if replayed == bill.RequestStatus {
		return false
	}
	logger.L(ctx, w.logger).Warn("bill status drifted from its event log",
		zap.String("bill_id", bill.ID.String()),
		zap.String("stored", string(bill.RequestStatus)),
		zap.String("replayed", string(replayed)))
	return true
}
