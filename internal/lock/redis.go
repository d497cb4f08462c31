// Package lock provides a Redis lease that keeps scheduler passes from
// overlapping across worker instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key holding the pass lease.
const DefaultKey = "jobalert:pass-lease"

// ErrNotHeld is returned by Unlock when this instance holds no lease.
var ErrNotHeld = errors.New("lease not held")

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Connect parses redisURL and verifies connectivity.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Redis is a single-key lease with an expiry, so a crashed holder cannot
// block passes forever.
type Redis struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// NewRedis creates a lease on key that expires after ttl.
func NewRedis(client redis.Cmdable, key string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, ttl: ttl}
}

// TryLock takes the lease if it is free. It reports false when another
// holder has it.
func (r *Redis) TryLock(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", r.key, err)
	}
	if ok {
		r.token = token
	}
	return ok, nil
}

// Unlock releases the lease if this instance still holds it.
func (r *Redis) Unlock(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token == "" {
		return ErrNotHeld
	}
	token := r.token
	r.token = ""

	n, err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", r.key, err)
	}
	if n == 0 {
		return fmt.Errorf("release %s: %w", r.key, ErrNotHeld)
	}
	return nil
}
