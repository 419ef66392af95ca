package lock

import (
	"context"
	"sync"
	"time"
)

// LocalManager is the single-process fallback: a table of per-key mutexes,
// created lazily and dropped once no holder or waiter remains. Keys never
// contend with each other, so operations on different slots proceed fully
// in parallel even without Redis.
type LocalManager struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{} // capacity 1; token present while the key is free
	refs int           // holder + waiters
}

func NewLocalManager() *LocalManager {
	return &LocalManager{entries: make(map[string]*localEntry)}
}

func (m *LocalManager) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Lock, error) {
	m.mu.Lock()
	e := m.entries[key]
	if e == nil {
		e = &localEntry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-e.ch:
		l := &localLock{m: m, key: key, e: e}
		if lease > 0 {
			l.expiry = time.AfterFunc(lease, l.expire)
		}
		return l, nil
	case <-timer.C:
		m.unref(key, e)
		return nil, ErrNotAcquired
	case <-ctx.Done():
		m.unref(key, e)
		return nil, ctx.Err()
	}
}

func (m *LocalManager) unref(key string, e *localEntry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

type localLock struct {
	m      *LocalManager
	key    string
	e      *localEntry
	once   sync.Once
	expiry *time.Timer
}

func (l *localLock) Release(context.Context) error {
	l.once.Do(func() {
		if l.expiry != nil {
			l.expiry.Stop()
		}
		l.e.ch <- struct{}{}
		l.m.unref(l.key, l.e)
	})
	return nil
}

// expire frees the key when the lease runs out before Release is called,
// so a leaked handle cannot wedge its slot forever.
func (l *localLock) expire() {
	l.once.Do(func() {
		l.e.ch <- struct{}{}
		l.m.unref(l.key, l.e)
	})
}
