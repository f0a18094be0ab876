package shared

import (
	"context"
	"time"
)

// OperationGuard hands out short-lived exclusive claims on a key so the same
// unit of work is not started twice concurrently. Claims expire after their
// TTL even if never released.
type OperationGuard interface {
	// Acquire claims key for ttl. ok is false when another holder has it.
	// The returned token must be passed to Release.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release drops the claim if token still owns it
	Release(ctx context.Context, key, token string) error

	// Close releases resources held by the guard
	Close() error
}
