package queue

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const guardKeyPrefix = "github-scan:inflight:"

// Guard keeps at most one in-flight job per key.
type Guard interface {
	// Acquire returns false when key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisGuard holds keys with SET NX and an expiry, so a crashed worker cannot
// block a scan id forever.
type RedisGuard struct {
	client goredis.UniversalClient
}

func NewRedisGuard(client goredis.UniversalClient) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, guardKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, guardKeyPrefix+key).Err()
}

type MemoryGuard struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		now:  time.Now,
		held: make(map[string]time.Time),
	}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expires, ok := g.held[key]; ok && now.Before(expires) {
		return false, nil
	}
	g.held[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
	return nil
}
