// ABOUTME: In-process response cache with TTL expiry and size-bounded eviction.
// ABOUTME: Uses a doubly-linked list to maintain insertion order for O(1) eviction.

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry stores the value, expiry, and list element for a cached key.
type memoryEntry struct {
	value     string
	expiresAt time.Time
	element   *list.Element
}

// Memory is a thread-safe, TTL-based, size-limited cache. Expired entries are
// rejected lazily on read and removed eagerly by a background sweep, so an
// expired value is never returned either way.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	order      *list.List // keys in insertion order (oldest at front)
	maxEntries int
	done       chan struct{}
	closed     bool
}

// NewMemory creates a memory cache holding at most maxEntries values.
// A background goroutine periodically sweeps expired entries.
func NewMemory(maxEntries int) *Memory {
	c := &Memory{
		entries:    make(map[string]*memoryEntry),
		order:      list.New(),
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the value for key, or ErrMiss if absent or expired.
func (c *Memory) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", ErrMiss
	}
	return entry.value, nil
}

// Set stores value under key for the given TTL. If the cache is at capacity,
// the oldest entry is evicted to make room.
func (c *Memory) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	// If key already exists, refresh it and move to back
	if entry, exists := c.entries[key]; exists {
		entry.value = value
		entry.expiresAt = now.Add(ttl)
		c.order.MoveToBack(entry.element)
		return nil
	}

	// Evict oldest if at capacity
	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &memoryEntry{
		value:     value,
		expiresAt: now.Add(ttl),
		element:   elem,
	}
	return nil
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using the linked list.
func (c *Memory) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// sweep runs in a background goroutine, periodically removing expired entries.
func (c *Memory) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runSweep()
		case <-c.done:
			return
		}
	}
}

// runSweep removes all expired entries from the cache.
func (c *Memory) runSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweep goroutine. It is safe to call multiple times.
func (c *Memory) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
	return nil
}
