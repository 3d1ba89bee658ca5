// Package syncutil provides small building blocks for sharing state across
// goroutines without threading a single bigger lock through call sites that
// only care about one piece of it.
package syncutil

import "sync"

// Guarded holds a single value behind a read/write lock. Background tasks
// that only need to observe or replace one small record (a name, an offer,
// an auth key) take a *Guarded[T] instead of a handle to a larger owner
// struct, so unrelated state never shares a critical section.
type Guarded[T any] struct {
	mu sync.RWMutex
	v  T
}

// NewGuarded creates a Guarded initialized to v.
func NewGuarded[T any](v T) *Guarded[T] {
	return &Guarded[T]{v: v}
}

// Get returns a copy of the current value.
func (g *Guarded[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.v
}

// Set replaces the current value.
func (g *Guarded[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.v = v
}

// Update applies fn to the current value under the write lock and stores
// the result. Use this instead of Get-then-Set when the new value depends
// on the old one, to avoid a race between the two.
func (g *Guarded[T]) Update(fn func(T) T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.v = fn(g.v)
}
