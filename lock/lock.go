// Package lock provides the mutual-exclusion scopes used to serialize
// mutations of a single lead and to keep nurturing passes from overlapping.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotAcquired is returned by Lock when the context ends before the key frees up.
var ErrNotAcquired = errors.New("lock not acquired")

// DefaultTTL bounds how long a crashed holder can keep a key.
const DefaultTTL = 2 * time.Minute

// Unlock releases a held key. Calling it more than once is a no-op.
type Unlock func()

// Locker hands out exclusive ownership of string keys.
type Locker interface {
	// Lock blocks until the key is acquired or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
	// TryLock acquires the key only if it is free right now.
	TryLock(ctx context.Context, key string) (Unlock, bool, error)
}

// LeadKey is the lock key guarding every mutation of one lead.
func LeadKey(leadID uint) string {
	return fmt.Sprintf("lead:%d", leadID)
}

// PassKey guards the nurturing pass as a whole.
const PassKey = "nurturing:pass"
