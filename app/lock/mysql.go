package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

type MySQLLocker struct {
	db    *sql.DB
	mu    sync.Mutex
	conns map[string]*sql.Conn
}

// NewMySQLLocker constructs a locker on MySQL named locks. A lock lives as
// long as the session that took it, so each held key pins one connection.
func NewMySQLLocker(db *sql.DB) *MySQLLocker {
	return &MySQLLocker{
		db:    db,
		conns: make(map[string]*sql.Conn),
	}
}

// Acquire calls GET_LOCK without waiting. ttl does not apply to session locks.
func (l *MySQLLocker) Acquire(ctx context.Context, key string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.conns[key]; held {
		return ErrAlreadyHeld
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("mysql lock conn: %w", err)
	}

	var acquired sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return fmt.Errorf("get_lock %s: %w", key, err)
	}
	if !acquired.Valid || acquired.Int64 != 1 {
		_ = conn.Close()
		return ErrNotAcquired
	}

	l.conns[key] = conn
	return nil
}

// Release calls RELEASE_LOCK and returns the pinned connection to the pool.
func (l *MySQLLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	conn, held := l.conns[key]
	delete(l.conns, key)
	l.mu.Unlock()

	if !held {
		return nil
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", key); err != nil {
		return fmt.Errorf("release_lock %s: %w", key, err)
	}
	return nil
}
