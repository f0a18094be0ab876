package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCache_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("reuses a fresh token", func(t *testing.T) {
		cache := NewTokenCache(30 * time.Second)
		calls := 0
		fetch := func(context.Context) (string, time.Duration, error) {
			calls++
			return "tok", time.Hour, nil
		}

		for i := 0; i < 3; i++ {
			token, err := cache.Get(ctx, fetch)
			require.NoError(t, err)
			assert.Equal(t, "tok", token)
		}
		assert.Equal(t, 1, calls)
	})

	t.Run("refreshes inside the skew window", func(t *testing.T) {
		now := time.Now()
		cache := NewTokenCache(30 * time.Second)
		cache.now = func() time.Time { return now }

		n := 0
		fetch := func(context.Context) (string, time.Duration, error) {
			n++
			return []string{"first", "second"}[n-1], time.Minute, nil
		}

		token, err := cache.Get(ctx, fetch)
		require.NoError(t, err)
		assert.Equal(t, "first", token)

		now = now.Add(20 * time.Second)
		token, err = cache.Get(ctx, fetch)
		require.NoError(t, err)
		assert.Equal(t, "first", token)

		now = now.Add(15 * time.Second)
		token, err = cache.Get(ctx, fetch)
		require.NoError(t, err)
		assert.Equal(t, "second", token)
	})

	t.Run("fetch errors are not cached", func(t *testing.T) {
		cache := NewTokenCache(0)
		boom := errors.New("boom")

		_, err := cache.Get(ctx, func(context.Context) (string, time.Duration, error) {
			return "", 0, boom
		})
		assert.ErrorIs(t, err, boom)

		token, err := cache.Get(ctx, func(context.Context) (string, time.Duration, error) {
			return "ok", time.Hour, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", token)
	})

	t.Run("invalidate forces a refetch", func(t *testing.T) {
		cache := NewTokenCache(0)
		var calls int
		fetch := func(context.Context) (string, time.Duration, error) {
			calls++
			return "tok", time.Hour, nil
		}

		_, _ = cache.Get(ctx, fetch)
		cache.Invalidate()
		_, _ = cache.Get(ctx, fetch)
		assert.Equal(t, 2, calls)
	})

	t.Run("concurrent callers share one fetch", func(t *testing.T) {
		cache := NewTokenCache(0)
		var calls atomic.Int32
		fetch := func(context.Context) (string, time.Duration, error) {
			calls.Add(1)
			time.Sleep(5 * time.Millisecond)
			return "tok", time.Hour, nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = cache.Get(ctx, fetch)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), calls.Load())
	})
}
