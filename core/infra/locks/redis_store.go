package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Second

// RedisStore keeps one key per resource holding the owner, with the lease
// TTL as the key expiry.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Acquire takes the lease when free and extends it when owner already
// holds it. It reports whether owner holds the lease afterwards.
func (s *RedisStore) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	resource, owner, err := s.check(resource, owner)
	if err != nil {
		return false, err
	}
	n, err := s.client.Eval(ctx, acquireScript, []string{leaseKey(resource)}, owner, normalizeTTL(ttl).Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", resource, err)
	}
	return n == 1, nil
}

// Release drops the lease if owner holds it.
func (s *RedisStore) Release(ctx context.Context, resource, owner string) (bool, error) {
	resource, owner, err := s.check(resource, owner)
	if err != nil {
		return false, err
	}
	n, err := s.client.Eval(ctx, releaseScript, []string{leaseKey(resource)}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", resource, err)
	}
	return n == 1, nil
}

// Get returns the current lease, or nil when the resource is free.
func (s *RedisStore) Get(ctx context.Context, resource string) (*Lease, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("lock store unavailable")
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return nil, fmt.Errorf("resource required")
	}
	key := leaseKey(resource)
	owner, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lease := &Lease{Resource: resource, Owner: owner}
	if ttl, err := s.client.PTTL(ctx, key).Result(); err == nil && ttl > 0 {
		lease.ExpiresAt = time.Now().Add(ttl).UTC()
	}
	return lease, nil
}

func (s *RedisStore) check(resource, owner string) (string, string, error) {
	if s == nil || s.client == nil {
		return "", "", fmt.Errorf("lock store unavailable")
	}
	resource = strings.TrimSpace(resource)
	owner = strings.TrimSpace(owner)
	if resource == "" || owner == "" {
		return "", "", fmt.Errorf("resource and owner required")
	}
	return resource, owner, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

func leaseKey(resource string) string {
	return "lock:" + resource
}

const acquireScript = `
local holder = redis.call("GET", KEYS[1])
if holder == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
if not holder then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
return 0
`

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`
