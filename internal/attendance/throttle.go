package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle remembers recent successful submissions per client key so rapid
// resubmission can be refused with the remaining wait. This is a UX
// safeguard against accidental double taps, not a security control: a
// different device or network path gets a different key.
type Throttle interface {
	// Remaining returns how long the key must still wait, zero when clear.
	Remaining(ctx context.Context, key string) (time.Duration, error)
	// Touch marks a successful submission for the key.
	Touch(ctx context.Context, key string, window time.Duration) error
}

// MemoryThrottle is a mutex-guarded map for dev and tests.
type MemoryThrottle struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> window end
	now     func() time.Time
}

// NewMemoryThrottle creates an in-process throttle.
func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{entries: make(map[string]time.Time), now: time.Now}
}

// Remaining implements Throttle.
func (t *MemoryThrottle) Remaining(_ context.Context, key string) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	end, ok := t.entries[key]
	if !ok {
		return 0, nil
	}
	left := end.Sub(t.now())
	if left <= 0 {
		delete(t.entries, key)
		return 0, nil
	}
	return left, nil
}

// Touch implements Throttle.
func (t *MemoryThrottle) Touch(_ context.Context, key string, window time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = t.now().Add(window)
	return nil
}

// RedisThrottle shares throttle state across api instances.
type RedisThrottle struct {
	client *redis.Client
	prefix string
}

// NewRedisThrottle creates a Redis-backed throttle.
func NewRedisThrottle(client *redis.Client, prefix string) *RedisThrottle {
	if prefix == "" {
		prefix = "presenzo:throttle:"
	}
	return &RedisThrottle{client: client, prefix: prefix}
}

// Remaining implements Throttle via PTTL; a missing key reports negative.
func (t *RedisThrottle) Remaining(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := t.client.PTTL(ctx, t.prefix+key).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Touch implements Throttle; the key expires on its own.
func (t *RedisThrottle) Touch(ctx context.Context, key string, window time.Duration) error {
	return t.client.Set(ctx, t.prefix+key, "1", window).Err()
}
