package keymutex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitForTail blocks until the key's queue tail is no longer prev.
func waitForTail(t *testing.T, m *Manager, key string, prev *waiter) *waiter {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		tail := m.tails[key]
		m.mu.Unlock()
		if tail != nil && tail != prev {
			return tail
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("waiter on %q never enqueued", key)
	return nil
}

func TestWithLocksMutualExclusion(t *testing.T) {
	t.Parallel()

	m := New()
	counter := 0
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), "resource:1", func() error {
				v := counter
				time.Sleep(100 * time.Microsecond)
				counter = v + 1
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("expected %d increments, got %d", workers, counter)
	}
	if m.Waiting() != 0 {
		t.Fatalf("expected no keys held, got %d", m.Waiting())
	}
}

func TestWithLocksOverlappingSetsDoNotDeadlock(t *testing.T) {
	t.Parallel()

	m := New()
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_ = m.WithLocks(context.Background(), []string{"a", "b"}, func() error {
					time.Sleep(50 * time.Microsecond)
					return nil
				})
			}()
			go func() {
				defer wg.Done()
				_ = m.WithLocks(context.Background(), []string{"b", "a"}, func() error {
					time.Sleep(50 * time.Microsecond)
					return nil
				})
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("overlapping key sets deadlocked")
	}
}

func TestWithLocksFIFO(t *testing.T) {
	t.Parallel()

	m := New()
	release := make(chan struct{})
	holding := make(chan struct{})

	go func() {
		_ = m.WithLock(context.Background(), "k", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	tail := waitForTail(t, m, "k", nil)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = m.WithLock(context.Background(), "k", func() error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
		tail = waitForTail(t, m, "k", tail)
	}

	close(release)
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestWithLocksReleasesOnErrorAndPanic(t *testing.T) {
	t.Parallel()

	m := New()
	boom := errors.New("boom")

	if err := m.WithLock(context.Background(), "k", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = m.WithLocks(context.Background(), []string{"k", "j"}, func() error { panic("kaboom") })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.WithLocks(ctx, []string{"j", "k"}, func() error { return nil }); err != nil {
		t.Fatalf("keys were not released: %v", err)
	}
}

func TestWithLocksCancelledWaiterKeepsChainIntact(t *testing.T) {
	t.Parallel()

	m := New()
	release := make(chan struct{})
	holding := make(chan struct{})

	go func() {
		_ = m.WithLock(context.Background(), "k", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	first := waitForTail(t, m, "k", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		cancelled <- m.WithLock(ctx, "k", func() error {
			t.Error("cancelled waiter must not run")
			return nil
		})
	}()
	second := waitForTail(t, m, "k", first)

	ran := make(chan struct{})
	go func() {
		_ = m.WithLock(context.Background(), "k", func() error {
			close(ran)
			return nil
		})
	}()
	waitForTail(t, m, "k", second)

	cancel()
	if err := <-cancelled; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(release)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter behind a cancelled waiter never acquired the key")
	}
}

func TestWithLocksDeduplicatesKeys(t *testing.T) {
	t.Parallel()

	m := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ran := false
	err := m.WithLocks(ctx, []string{"a", "", "a"}, func() error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected fn to run once without error, ran=%v err=%v", ran, err)
	}
}

func TestWaitObserverReportsWait(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		waits []time.Duration
	)
	m := New(WithWaitObserver(func(key string, d time.Duration) {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
	}))

	if err := m.WithLock(context.Background(), IdentityKey("42"), func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(waits) != 1 || waits[0] != 0 {
		t.Fatalf("expected a single zero wait, got %v", waits)
	}
}
