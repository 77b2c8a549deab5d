// ABOUTME: Redis-backed response cache for multi-instance deployments.
// ABOUTME: Entries are JSON values with server-side TTL expiry.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisEntry is the JSON value stored under each key.
type redisEntry struct {
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// Redis is a response cache backed by a Redis server. Expiry is enforced
// server-side via key TTLs.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the given Redis server and verifies the connection
// with a ping before returning.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}

	return &Redis{client: client}, nil
}

// Get returns the value for key, or ErrMiss if Redis has no live entry.
func (c *Redis) Get(ctx context.Context, key string) (string, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}

	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry behaves like a miss; the caller will overwrite it.
		return "", ErrMiss
	}
	return entry.Response, nil
}

// Set stores value under key with the given TTL.
func (c *Redis) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	entry := redisEntry{
		Response:  value,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (c *Redis) Close() error {
	return c.client.Close()
}
