package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/academy/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultGuardKeyPrefix = "billing:inflight:"

// releaseScript deletes the key only when it still holds the caller's token,
// so an expired-then-reacquired claim is never dropped by its old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOperationGuard implements OperationGuard using Redis.
// Suitable for deployments where several instances serve staff requests.
type RedisOperationGuard struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisOperationGuard connects to Redis and creates a guard
func NewRedisOperationGuard(cfg RedisConfig) (*RedisOperationGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisOperationGuardWithClient(client, ""), nil
}

// NewRedisOperationGuardWithClient creates a guard with an existing Redis client
func NewRedisOperationGuardWithClient(client *redis.Client, keyPrefix string) *RedisOperationGuard {
	if keyPrefix == "" {
		keyPrefix = defaultGuardKeyPrefix
	}
	return &RedisOperationGuard{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Acquire claims key with SET NX and a TTL
func (g *RedisOperationGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire guard %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the claim if token still owns it
func (g *RedisOperationGuard) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.keyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release guard %q: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection
func (g *RedisOperationGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (g *RedisOperationGuard) Close() error {
	return g.client.Close()
}

var _ shared.OperationGuard = (*RedisOperationGuard)(nil)
