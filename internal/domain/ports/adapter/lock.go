package adapter

import (
	"context"
	"time"
)

// Locker provides short-lived mutual exclusion keyed by string.
// TryLock returns domain.ErrLocked when the key stays held.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
