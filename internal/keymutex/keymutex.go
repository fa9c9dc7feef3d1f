// Package keymutex provides process-local critical sections keyed by strings.
//
// Waiters on the same key are served in arrival order. Callers that need
// several keys pass them all to WithLocks, which acquires them in sorted
// order so that overlapping key sets cannot deadlock.
package keymutex

import (
	"context"
	"sort"
	"sync"
	"time"
)

// WaitObserver is told how long a caller queued for a key
type WaitObserver func(key string, waited time.Duration)

// Manager hands out keyed locks. The zero value is not usable; use New.
type Manager struct {
	mu      sync.Mutex
	tails   map[string]*waiter
	observe WaitObserver
}

// waiter is one position in a key's queue. done closes when the holder releases.
type waiter struct {
	done chan struct{}
}

// Option configures a Manager
type Option func(*Manager)

// WithWaitObserver reports lock wait times, e.g. to metrics
func WithWaitObserver(fn WaitObserver) Option {
	return func(m *Manager) { m.observe = fn }
}

// New creates a Manager
func New(opts ...Option) *Manager {
	m := &Manager{tails: make(map[string]*waiter)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithLocks runs fn while holding every key. Keys are deduplicated, empty
// keys dropped and the rest acquired in lexicographic order; they are
// released in reverse order when fn returns or panics. ctx bounds only the
// wait for keys, never fn itself.
func (m *Manager) WithLocks(ctx context.Context, keys []string, fn func() error) error {
	ordered := normalize(keys)
	releases := make([]func(), 0, len(ordered))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	for _, key := range ordered {
		release, err := m.acquire(ctx, key)
		if err != nil {
			return err
		}
		releases = append(releases, release)
	}

	return fn()
}

// WithLock is WithLocks for a single key
func (m *Manager) WithLock(ctx context.Context, key string, fn func() error) error {
	return m.WithLocks(ctx, []string{key}, fn)
}

// Waiting returns the number of keys that currently have a holder or queue
func (m *Manager) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tails)
}

func (m *Manager) acquire(ctx context.Context, key string) (func(), error) {
	me := &waiter{done: make(chan struct{})}

	m.mu.Lock()
	prev := m.tails[key]
	m.tails[key] = me
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			if m.tails[key] == me {
				delete(m.tails, key)
			}
			m.mu.Unlock()
			close(me.done)
		})
	}

	if prev == nil {
		m.observed(key, 0)
		return release, nil
	}

	start := time.Now()
	select {
	case <-prev.done:
		m.observed(key, time.Since(start))
		return release, nil
	case <-ctx.Done():
		// Our slot stays in the chain; hand it on once the predecessor leaves.
		go func() {
			<-prev.done
			release()
		}()
		return nil, ctx.Err()
	}
}

func (m *Manager) observed(key string, d time.Duration) {
	if m.observe != nil {
		m.observe(key, d)
	}
}

func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
