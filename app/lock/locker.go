package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendRedis = "redis"
	BackendMySQL = "mysql"
)

var ErrAlreadyHeld = errors.New("lock already held by this process")
var ErrNotAcquired = errors.New("lock not acquired")
var ErrUnknownBackend = errors.New("unknown lock backend")

// Locker serialises operators' maintenance actions across processes.
type Locker interface {
	// Acquire takes the lock without waiting. ErrNotAcquired means another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) error
	// Release frees the lock if this process holds it.
	Release(ctx context.Context, key string) error
}

// New picks the backend named by LOCK_BACKEND. The MySQL backend needs db.
func New(backend string, client redis.Cmdable, db *sql.DB) (Locker, error) {
	switch backend {
	case "", BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("%w: redis backend without client", ErrUnknownBackend)
		}
		return NewRedisLocker(client), nil
	case BackendMySQL:
		if db == nil {
			return nil, fmt.Errorf("%w: mysql backend requires MYSQL_DSN", ErrUnknownBackend)
		}
		return NewMySQLLocker(db), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// WithLock runs fn while holding key.
func WithLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if err := locker.Acquire(ctx, key, ttl); err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer func() {
		_ = locker.Release(context.WithoutCancel(ctx), key)
	}()
	return fn(ctx)
}
