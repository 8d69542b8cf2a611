package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// Hold acquires key and keeps renewing it until ctx is done, then
	// releases it. It returns ErrLockHeld if another holder owns the key.
	// The channel reports a lost lease and is closed on release.
	Hold(ctx context.Context, key string, ttl time.Duration) (<-chan error, error)
}
