// Package keylock provides mutual exclusion keyed by an arbitrary string,
// typically a document id.
package keylock

import (
	"context"
	"sync"
)

// Map hands out one lock per key. Entries are reference counted and dropped
// once no holder or waiter remains, so the map stays proportional to the
// number of keys currently in use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	// token is a one-slot semaphore: holding the slot is holding the lock.
	token chan struct{}
	refs  int
}

// New creates an empty lock map.
func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock blocks until the lock for key is held or ctx is done.
// The returned unlock func is safe to call more than once.
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	e := m.ref(key)

	select {
	case e.token <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, e)
		return nil, ctx.Err()
	}

	return m.unlocker(key, e), nil
}

// TryLock acquires the lock for key only if it is free.
func (m *Map) TryLock(key string) (func(), bool) {
	e := m.ref(key)

	select {
	case e.token <- struct{}{}:
		return m.unlocker(key, e), true
	default:
		m.unref(key, e)
		return nil, false
	}
}

// Held reports whether some caller currently holds key.
func (m *Map) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	return ok && len(e.token) == 1
}

// Len returns the number of keys with a holder or waiter.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Map) unlocker(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.token
			m.unref(key, e)
		})
	}
}

func (m *Map) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	if !ok {
		e = &entry{token: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map) unref(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
