package nbtls

import (
	"context"
	"sync"
)

// Deferred is a single-assignment future: exactly one of Resolve or Reject
// may ever take effect for a given Deferred, matching spec invariant E-2
// ("the Deferred is resolved exactly once").
type Deferred[T any] struct {
	once sync.Once
	done chan struct{}

	mu        sync.Mutex
	val       T
	err       error
	callbacks []func(T, error)
}

// NewDeferred returns a fresh, unsettled Deferred.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolve settles d successfully. Later calls to Resolve or Reject on the
// same Deferred are no-ops.
func (d *Deferred[T]) Resolve(v T) { d.settle(v, nil) }

// Reject settles d with an error. Later calls to Resolve or Reject on the
// same Deferred are no-ops.
func (d *Deferred[T]) Reject(err error) {
	var zero T
	d.settle(zero, err)
}

func (d *Deferred[T]) settle(v T, err error) {
	d.once.Do(func() {
		d.mu.Lock()
		d.val, d.err = v, err
		cbs := d.callbacks
		d.callbacks = nil
		d.mu.Unlock()
		close(d.done)
		for _, cb := range cbs {
			cb(v, err)
		}
	})
}

// Promise returns the read-only view of d.
func (d *Deferred[T]) Promise() *Promise[T] { return &Promise[T]{d: d} }

// Promise is the read side of a Deferred.
type Promise[T any] struct{ d *Deferred[T] }

// Then registers fn to run once the Promise settles. If it is already
// settled, fn runs synchronously before Then returns. Otherwise fn runs on
// whichever goroutine calls Resolve/Reject — per the single-threaded
// cooperative model of spec.md §5, that is always the reactor's dispatch
// path, never two callbacks at once.
func (p *Promise[T]) Then(fn func(T, error)) {
	select {
	case <-p.d.done:
		p.d.mu.Lock()
		v, err := p.d.val, p.d.err
		p.d.mu.Unlock()
		fn(v, err)
		return
	default:
	}

	p.d.mu.Lock()
	select {
	case <-p.d.done:
		v, err := p.d.val, p.d.err
		p.d.mu.Unlock()
		fn(v, err)
	default:
		p.d.callbacks = append(p.d.callbacks, fn)
		p.d.mu.Unlock()
	}
}

// Wait blocks until the Promise settles or ctx is done, whichever happens
// first.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.d.done:
		p.d.mu.Lock()
		defer p.d.mu.Unlock()
		return p.d.val, p.d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
