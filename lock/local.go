package lock

import (
	"context"
	"sync"
)

// LocalLocker is an in-process keyed mutex for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, key string) (Unlock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	released := make(chan struct{})
	l.held[key] = released

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(released)
		})
	}, true, nil
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	for {
		unlock, ok, _ := l.TryLock(ctx, key)
		if ok {
			return unlock, nil
		}

		l.mu.Lock()
		released := l.held[key]
		l.mu.Unlock()
		if released == nil {
			continue
		}

		select {
		case <-released:
		case <-ctx.Done():
			return nil, ErrNotAcquired
		}
	}
}
