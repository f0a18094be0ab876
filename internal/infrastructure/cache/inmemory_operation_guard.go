package cache

import (
	"context"
	"sync"
	"time"

	"github.com/academy/backend/internal/domain/shared"
	"github.com/google/uuid"
)

type claim struct {
	token     string
	expiresAt time.Time
}

// InMemoryOperationGuard implements OperationGuard with a map.
// Claims are only visible to this process.
type InMemoryOperationGuard struct {
	mu        sync.Mutex
	claims    map[string]claim
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryOperationGuard creates a guard and starts its cleanup goroutine
func NewInMemoryOperationGuard() *InMemoryOperationGuard {
	g := &InMemoryOperationGuard{
		claims:   make(map[string]claim),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	g.wg.Add(1)
	go g.cleanupLoop()

	return g
}

// Acquire claims key for ttl
func (g *InMemoryOperationGuard) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if c, exists := g.claims[key]; exists && now.Before(c.expiresAt) {
		return "", false, nil
	}

	token := uuid.NewString()
	g.claims[key] = claim{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Release drops the claim if token still owns it
func (g *InMemoryOperationGuard) Release(_ context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, exists := g.claims[key]; exists && c.token == token {
		delete(g.claims, key)
	}
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (g *InMemoryOperationGuard) Close() error {
	g.closeOnce.Do(func() {
		close(g.stopChan)
		g.wg.Wait()
	})
	return nil
}

func (g *InMemoryOperationGuard) cleanupLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopChan:
			return
		case <-ticker.C:
			g.cleanup()
		}
	}
}

func (g *InMemoryOperationGuard) cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, c := range g.claims {
		if !now.Before(c.expiresAt) {
			delete(g.claims, key)
		}
	}
}

// Size returns the number of live and expired claims not yet cleaned up
func (g *InMemoryOperationGuard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claims)
}

var _ shared.OperationGuard = (*InMemoryOperationGuard)(nil)
