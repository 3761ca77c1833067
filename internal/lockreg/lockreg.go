// Package lockreg hands out named, process-local mutual exclusion locks.
// Locks are created lazily on first use and live for the lifetime of the
// registry. Mutations of shared singleton state (runtime settings, live
// session transitions, the editor lock) run inside a critical section keyed
// by the resource they touch, e.g. "show:12" or "settings".
package lockreg

import (
	"context"
	"fmt"
	"sync"
)

// namedLock is a context-aware mutex: the buffered slot is the token.
type namedLock chan struct{}

// Registry maps lock names to their locks. The registry mutex only guards
// the map; holding a named lock never holds the registry mutex.
type Registry struct {
	mu    sync.RWMutex
	locks map[string]namedLock
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{locks: make(map[string]namedLock)}
}

// get returns the lock for name, creating it under the write lock when it
// does not exist yet.
func (r *Registry) get(name string) namedLock {
	r.mu.RLock()
	l, ok := r.locks[name]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.locks[name]; !ok {
		l = make(namedLock, 1)
		r.locks[name] = l
	}
	return l
}

// Acquire blocks until the lock called name is held or ctx is done. The
// returned release func must be called exactly once; extra calls are
// ignored.
func (r *Registry) Acquire(ctx context.Context, name string) (func(), error) {
	l := r.get(name)
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire lock %q: %w", name, ctx.Err())
	}
	var once sync.Once
	return func() { once.Do(func() { <-l }) }, nil
}

// With runs fn while holding the lock called name. The lock is released
// on every exit path, including a panic inside fn.
func (r *Registry) With(ctx context.Context, name string, fn func() error) error {
	release, err := r.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Len reports how many named locks have been created.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locks)
}

// ShowKey is the lock name guarding live session state of a show.
func ShowKey(showID uint64) string { return fmt.Sprintf("show:%d", showID) }

// SettingsKey guards the runtime settings object.
const SettingsKey = "settings"
