package cache

import (
	"fmt"

	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// GuardFactory creates operation guards based on configuration
type GuardFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// GuardFactoryOption is a functional option for configuring the factory
type GuardFactoryOption func(*GuardFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) GuardFactoryOption {
	return func(f *GuardFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory guard
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) GuardFactoryOption {
	return func(f *GuardFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewGuardFactory creates a new factory
func NewGuardFactory(cfg config.RedisConfig, opts ...GuardFactoryOption) *GuardFactory {
	f := &GuardFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateGuard returns a Redis guard when Redis is configured and reachable,
// otherwise an in-memory guard if fallback is allowed.
func (f *GuardFactory) CreateGuard() (shared.OperationGuard, error) {
	if f.redisConfig.Host == "" {
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("redis.host is not configured and in-memory fallback is disabled")
		}
		f.logger.Info("Redis not configured, using in-memory operation guard")
		return NewInMemoryOperationGuard(), nil
	}

	guard, err := NewRedisOperationGuard(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("using Redis operation guard", zap.String("addr", f.redisConfig.Addr()))
		return guard, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for the operation guard but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory operation guard. "+
		"Concurrent operations on the same charge are only serialized per instance.",
		zap.Error(err),
	)
	return NewInMemoryOperationGuard(), nil
}
