// ABOUTME: Tests for the in-process response cache.
// ABOUTME: Validates TTL expiration, size limits, eviction order, and concurrency safety.

package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetMiss(t *testing.T) {
	c := NewMemory(100)
	defer c.Close()

	_, err := c.Get(t.Context(), "never-set")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestMemory_SetAndGet(t *testing.T) {
	c := NewMemory(100)
	defer c.Close()

	require.NoError(t, c.Set(t.Context(), "key-1", "a generated response", 5*time.Minute))

	got, err := c.Get(t.Context(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "a generated response", got)
}

func TestMemory_ExpiredEntryNeverReturned(t *testing.T) {
	c := NewMemory(100)
	defer c.Close()

	require.NoError(t, c.Set(t.Context(), "expiring", "value", 10*time.Millisecond))

	got, err := c.Get(t.Context(), "expiring")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	time.Sleep(20 * time.Millisecond)

	_, err = c.Get(t.Context(), "expiring")
	assert.True(t, errors.Is(err, ErrMiss), "expired entry must read as a miss")
}

func TestMemory_EvictsOldestAtCapacity(t *testing.T) {
	c := NewMemory(3)
	defer c.Close()

	for i := 1; i <= 3; i++ {
		require.NoError(t, c.Set(t.Context(), fmt.Sprintf("key-%d", i), "v", time.Minute))
	}

	// Adding a fourth evicts key-1, the oldest
	require.NoError(t, c.Set(t.Context(), "key-4", "v", time.Minute))

	_, err := c.Get(t.Context(), "key-1")
	assert.True(t, errors.Is(err, ErrMiss), "oldest entry should have been evicted")

	for _, key := range []string{"key-2", "key-3", "key-4"} {
		_, err := c.Get(t.Context(), key)
		assert.NoError(t, err, "key %s should survive eviction", key)
	}
	assert.Equal(t, 3, c.Len())
}

func TestMemory_SetRefreshesExistingKey(t *testing.T) {
	c := NewMemory(2)
	defer c.Close()

	require.NoError(t, c.Set(t.Context(), "key-1", "old", time.Minute))
	require.NoError(t, c.Set(t.Context(), "key-2", "v", time.Minute))

	// Re-setting key-1 moves it to the back of the eviction order
	require.NoError(t, c.Set(t.Context(), "key-1", "new", time.Minute))
	require.NoError(t, c.Set(t.Context(), "key-3", "v", time.Minute))

	got, err := c.Get(t.Context(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got)

	_, err = c.Get(t.Context(), "key-2")
	assert.True(t, errors.Is(err, ErrMiss), "key-2 was oldest and should be gone")
}

func TestMemory_CloseIsIdempotent(t *testing.T) {
	c := NewMemory(10)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	c := NewMemory(1000)
	defer c.Close()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			for j := range 50 {
				key := fmt.Sprintf("key-%d-%d", i, j)
				assert.NoError(t, c.Set(t.Context(), key, "v", time.Minute))
				_, _ = c.Get(t.Context(), key)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 500, c.Len())
}
