// Package lock serializes work per key, in process or across processes.
package lock

import (
	"context"
	"errors"
)

var ErrNotAcquired = errors.New("lock not acquired")

// KeyedLocker hands out one holder per key at a time. The returned unlock
// must be called exactly once.
type KeyedLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
