package service

import (
	"context"
	"time"

	"identity-control-plane/internal/cache"
	userdomain "identity-control-plane/internal/user/domain"
)

// failedAuthKeyPrefix namespaces failed-login counters in the shared cache.
const failedAuthKeyPrefix = "auth:fails:"

// FailedAuthCounter tracks failed login attempts per case-normalized user
// name or email address.
type FailedAuthCounter interface {
	Get(ctx context.Context, identifier string) (int64, error)
	Increment(ctx context.Context, identifier string) error
	Reset(ctx context.Context, identifier string) error
}

// CacheFailedAuthCounter backs FailedAuthCounter with shared Redis counters.
// The TTL slides on every increment, so lockout pressure decays only after a
// quiet period; increments are atomic on the Redis side, so concurrent failed
// logins never lose updates.
type CacheFailedAuthCounter struct {
	cache *cache.Client
	ttl   time.Duration
}

// NewCacheFailedAuthCounter returns a counter with the given sliding TTL.
func NewCacheFailedAuthCounter(c *cache.Client, ttl time.Duration) *CacheFailedAuthCounter {
	return &CacheFailedAuthCounter{cache: c, ttl: ttl}
}

// Get returns the current count for the identifier; missing keys count zero.
func (f *CacheFailedAuthCounter) Get(ctx context.Context, identifier string) (int64, error) {
	return f.cache.GetInt64(ctx, failedAuthKey(identifier))
}

// Increment adds one failed attempt and refreshes the counter's TTL.
func (f *CacheFailedAuthCounter) Increment(ctx context.Context, identifier string) error {
	_, err := f.cache.Increment(ctx, failedAuthKey(identifier), f.ttl)
	return err
}

// Reset clears the counter for the identifier.
func (f *CacheFailedAuthCounter) Reset(ctx context.Context, identifier string) error {
	return f.cache.Delete(ctx, failedAuthKey(identifier))
}

func failedAuthKey(identifier string) string {
	return failedAuthKeyPrefix + userdomain.NormalizeIdentifier(identifier)
}
