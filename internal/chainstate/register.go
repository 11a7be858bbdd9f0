package chainstate

import "sync/atomic"

// Register holds the latest published value together with a version number.
// Readers never block; a value is never modified after Publish.
type Register[T any] struct {
	cur atomic.Pointer[versioned[T]]
}

type versioned[T any] struct {
	version uint64
	value   *T
}

// Publish makes v the current value and returns its version.
func (r *Register[T]) Publish(v *T) uint64 {
	for {
		prev := r.cur.Load()
		next := &versioned[T]{version: 1, value: v}
		if prev != nil {
			next.version = prev.version + 1
		}
		if r.cur.CompareAndSwap(prev, next) {
			return next.version
		}
	}
}

// Current returns the latest value, or nil before the first Publish.
func (r *Register[T]) Current() *T {
	v, _ := r.Load()
	return v
}

// Version returns the version of the latest value, zero before the first Publish.
func (r *Register[T]) Version() uint64 {
	_, version := r.Load()
	return version
}

// Load returns the latest value and its version as one consistent pair.
func (r *Register[T]) Load() (*T, uint64) {
	p := r.cur.Load()
	if p == nil {
		return nil, 0
	}
	return p.value, p.version
}
