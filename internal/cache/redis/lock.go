package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var _ domain.LockManager = (*LockManager)(nil)

// unlockLua deletes the key only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua renews the TTL only while the caller still holds the key.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// ErrLeaseLost is returned by Hold when renewal finds the key gone or owned
// by someone else.
var ErrLeaseLost = errors.New("redis: lease lost")

// LockManager implements domain.LockManager with SET NX PX and token-guarded
// Lua scripts for release and renewal.
type LockManager struct {
	client   *Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		client:   c,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// Acquire takes key for ttl. The returned unlock func is idempotent. It
// returns domain.ErrLockHeld if another party holds the key.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lk := lm.client.key("lock", key)
	token := uuid.NewString()

	ok, err := lm.client.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.client.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Hold acquires key before returning and then renews it every ttl/3 in
// the background. The returned channel yields ErrLeaseLost (or a renewal
// error) if the lease is lost, and is closed after ctx is done and the key
// has been released. It returns domain.ErrLockHeld if another party holds
// the key.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (<-chan error, error) {
	lk := lm.client.key("lock", key)
	token := uuid.NewString()

	ok, err := lm.client.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lease %s: %w", key, domain.ErrLockHeld)
	}

	lost := make(chan error, 1)
	go func() {
		defer close(lost)
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(releaseCtx, lm.client.rdb, []string{lk}, token).Err()
		}()
		lost <- lm.renew(ctx, lk, key, token, ttl)
	}()
	return lost, nil
}

// renew extends the lease until ctx is done (nil) or renewal fails.
func (lm *LockManager) renew(ctx context.Context, lk, key, token string, ttl time.Duration) error {
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := lm.extendSc.Run(ctx, lm.client.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("redis: renew lease %s: %w", key, err)
			}
			if n == 0 {
				return fmt.Errorf("redis: lease %s: %w", key, ErrLeaseLost)
			}
		}
	}
}
