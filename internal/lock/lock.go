// Package lock provides the cross-instance conversion lock. Within one process
// duplicate conversions are already collapsed by the coordinator; a Locker is
// only needed when several service instances share one cache.
package lock

import "context"

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker acquires a mutual-exclusion lock per cache key.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done. Errors wrap
	// models.ErrLockNotAcquired.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// NopLocker is the single-instance Locker.
type NopLocker struct{}

var _ Locker = NopLocker{}

func (NopLocker) Lock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}
