package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/academy/backend/internal/application/billing"
)

// Sweeper runs one stale bill sweep
type Sweeper interface {
	Sweep(ctx context.Context) (billing.SweepReport, error)
}

// StaleBillSchedulerConfig holds configuration for the stale bill scheduler
type StaleBillSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// Interval is the time between sweeps
	Interval time.Duration

	// RunTimeout bounds a single sweep
	RunTimeout time.Duration

	// RunOnStart sweeps once immediately instead of waiting a full interval
	RunOnStart bool
}

// DefaultStaleBillSchedulerConfig returns default configuration
func DefaultStaleBillSchedulerConfig() StaleBillSchedulerConfig {
	return StaleBillSchedulerConfig{
		Enabled:    false,
		Interval:   time.Hour,
		RunTimeout: 10 * time.Minute,
	}
}

// Validate checks the configuration of an enabled scheduler
func (c StaleBillSchedulerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive", ErrInvalidConfig)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("%w: sweep run timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// StaleBillScheduler runs the stale bill sweep on a fixed interval
type StaleBillScheduler struct {
	sweeper   Sweeper
	logger    *zap.Logger
	config    StaleBillSchedulerConfig
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewStaleBillScheduler creates a new stale bill scheduler
func NewStaleBillScheduler(sweeper Sweeper, logger *zap.Logger, config StaleBillSchedulerConfig) *StaleBillScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaleBillScheduler{
		sweeper: sweeper,
		logger:  logger,
		config:  config,
	}
}

// Start starts the scheduler. It is a no-op when disabled or already running.
func (s *StaleBillScheduler) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Stale bill scheduler is disabled")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Stale bill scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Bool("run_on_start", s.config.RunOnStart),
	)
	return nil
}

// Stop gracefully stops the scheduler, waiting for an in-flight sweep
func (s *StaleBillScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Stale bill scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Stale bill scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the sweep loop is active
func (s *StaleBillScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *StaleBillScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.execute(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Stale bill sweep loop stopping")
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

// execute runs one sweep with the configured timeout
func (s *StaleBillScheduler) execute(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	startTime := time.Now()
	report, err := s.sweeper.Sweep(runCtx)
	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Stale bill sweep failed",
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Stale bill sweep completed",
		zap.Duration("duration", duration),
		zap.Int("examined", report.Examined),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
		zap.Int("drifted", report.Drifted),
	)
}
