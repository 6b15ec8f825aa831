package sessionsvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mprlab/authbridge/internal/authkit"
)

// KV is the narrow key-value surface the provider needs from the session
// service. Touch reads a key and renews its TTL in one step, which is what
// makes the expiry window sliding.
type KV interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	SetIfNotExists(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Touch(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

// RedisKV backs the session service with Redis.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps an existing Redis client.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// DialRedisKV connects to Redis and verifies the connection.
func DialRedisKV(ctx context.Context, address string, password string, database int) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       database,
	})
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		return nil, fmt.Errorf("sessionsvc.dial: %w", pingErr)
	}
	return &RedisKV{client: client}, nil
}

// Set writes the value with the TTL.
func (kv *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return kv.client.Set(ctx, key, value, ttl).Err()
}

// SetIfNotExists writes only when the key is absent.
func (kv *RedisKV) SetIfNotExists(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	result := kv.client.SetArgs(ctx, key, value, redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	})
	if err := result.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Touch reads the value and renews its TTL atomically.
func (kv *RedisKV) Touch(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	value, err := kv.client.GetEx(ctx, key, ttl).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Delete removes the key; deleting an absent key is not an error.
func (kv *RedisKV) Delete(ctx context.Context, key string) error {
	return kv.client.Del(ctx, key).Err()
}

type memoryEntry struct {
	value    string
	deadline time.Time
}

// MemoryKV is an in-process KV with real TTL semantics, driven by an
// injectable clock. It stands in for Redis in tests.
type MemoryKV struct {
	mutex   sync.Mutex
	entries map[string]memoryEntry
	clock   authkit.Clock
}

// NewMemoryKV builds an empty in-memory KV.
func NewMemoryKV(clock authkit.Clock) *MemoryKV {
	if clock == nil {
		clock = authkit.SystemClock{}
	}
	return &MemoryKV{entries: make(map[string]memoryEntry), clock: clock}
}

// Set writes the value with the TTL.
func (kv *MemoryKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	kv.entries[key] = memoryEntry{value: value, deadline: kv.clock.Now().Add(ttl)}
	return nil
}

// SetIfNotExists writes only when the key is absent or expired.
func (kv *MemoryKV) SetIfNotExists(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	if entry, exists := kv.entries[key]; exists && kv.clock.Now().Before(entry.deadline) {
		return false, nil
	}
	kv.entries[key] = memoryEntry{value: value, deadline: kv.clock.Now().Add(ttl)}
	return true, nil
}

// Touch reads the value and renews its TTL.
func (kv *MemoryKV) Touch(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	entry, exists := kv.entries[key]
	if !exists {
		return "", false, nil
	}
	now := kv.clock.Now()
	if !now.Before(entry.deadline) {
		delete(kv.entries, key)
		return "", false, nil
	}
	entry.deadline = now.Add(ttl)
	kv.entries[key] = entry
	return entry.value, true, nil
}

// Delete removes the key.
func (kv *MemoryKV) Delete(ctx context.Context, key string) error {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	delete(kv.entries, key)
	return nil
}
