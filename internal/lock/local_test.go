package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalMutualExclusion(t *testing.T) {
	m := NewLocalManager()

	const n = 50
	var wg sync.WaitGroup
	var inside, maxInside int
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			held, err := m.Acquire(context.Background(), "key", 5*time.Second, time.Minute)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			_ = held.Release(context.Background())
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max holders = %d, want 1", maxInside)
	}
}

func TestLocalAcquireTimeout(t *testing.T) {
	m := NewLocalManager()

	held, err := m.Acquire(context.Background(), "key", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer held.Release(context.Background())

	start := time.Now()
	_, err = m.Acquire(context.Background(), "key", 50*time.Millisecond, time.Minute)
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("got %v, want ErrNotAcquired", err)
	}
	if waited := time.Since(start); waited < 50*time.Millisecond {
		t.Fatalf("returned after %v, before the wait elapsed", waited)
	}
}

func TestLocalKeysAreIndependent(t *testing.T) {
	m := NewLocalManager()

	a, err := m.Acquire(context.Background(), "slot:a", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("acquire a failed: %v", err)
	}
	defer a.Release(context.Background())

	// A held lock on one key must not delay another key.
	b, err := m.Acquire(context.Background(), "slot:b", 10*time.Millisecond, time.Minute)
	if err != nil {
		t.Fatalf("acquire b blocked by unrelated key: %v", err)
	}
	_ = b.Release(context.Background())
}

func TestLocalReleaseAllowsNextWaiter(t *testing.T) {
	m := NewLocalManager()

	held, err := m.Acquire(context.Background(), "key", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := held.Release(context.Background()); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	// Double release must be harmless.
	if err := held.Release(context.Background()); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}

	next, err := m.Acquire(context.Background(), "key", 10*time.Millisecond, time.Minute)
	if err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
	_ = next.Release(context.Background())
}

func TestLocalLeaseExpiry(t *testing.T) {
	m := NewLocalManager()

	// Leak the handle on purpose; the lease must free the key.
	if _, err := m.Acquire(context.Background(), "key", time.Second, 20*time.Millisecond); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	held, err := m.Acquire(context.Background(), "key", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("acquire after lease expiry failed: %v", err)
	}
	_ = held.Release(context.Background())
}

func TestLocalAcquireHonoursContext(t *testing.T) {
	m := NewLocalManager()

	held, err := m.Acquire(context.Background(), "key", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer held.Release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := m.Acquire(ctx, "key", time.Minute, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
