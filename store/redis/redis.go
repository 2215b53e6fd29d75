// Package redis provides a Redis-backed freight.KV for the reconciliation
// cache, so overrides are shared by every engine process pointed at the
// same Redis and survive restarts.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KV implements freight.KV on a Redis client.
type KV struct {
	client *redis.Client
	prefix string
}

// New connects to addr. prefix is prepended to every key and may be empty.
func New(addr, password string, db int, prefix string) *KV {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), prefix)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *KV {
	return &KV{client: client, prefix: prefix}
}

// Ping verifies the connection.
func (kv *KV) Ping(ctx context.Context) error {
	if err := kv.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (kv *KV) Close() error {
	return kv.client.Close()
}

func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := kv.client.Get(ctx, kv.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value without expiry. Overrides are cleared explicitly.
func (kv *KV) Set(ctx context.Context, key, value string) error {
	if err := kv.client.Set(ctx, kv.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (kv *KV) Delete(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, kv.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}
