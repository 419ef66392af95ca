package lock

import (
	"context"
	"errors"
	"time"
)

// Manager hands out exclusive, key-scoped locks with a bounded acquire wait
// and a bounded lease. Both backends give the same guarantee within their
// deployment scope: at most one holder per key at any time.
type Manager interface {
	Acquire(ctx context.Context, key string, wait, lease time.Duration) (Lock, error)
}

// Lock is a held lock. Release is safe to call more than once; calls after
// the first (or after lease expiry) are no-ops.
type Lock interface {
	Release(ctx context.Context) error
}

// ErrNotAcquired is returned when the lock could not be taken within the
// wait window.
var ErrNotAcquired = errors.New("lock not acquired within wait window")
