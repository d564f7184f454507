/*
Package exec provides the two small concurrency primitives the session
engine needs to keep caller-visible completions off the channel's
read-pump goroutine: a single-consumer Future and a fixed-size
dispatch Executor.

Neither type has a direct single-file precedent in the reference
corpus; both follow the cooperative goroutine-plus-context idiom used
throughout the corpus (e.g. a background goroutine owns its state,
mutations are mutex-guarded, and cancellation flows through a
context.Context) rather than introducing a new concurrency style.
*/
package exec

import (
	"context"
	"sync"
)

// Future is a single-consumer promise: it resolves exactly once, with
// either a value or an error, and Wait may be called from any number
// of goroutines (all of them observe the same outcome).
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewFuture returns an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future successfully. Only the first call (of
// Resolve or Fail) has any effect.
func (f *Future[T]) Resolve(value T) {
	f.once.Do(func() {
		f.value = value
		close(f.done)
	})
}

// Fail completes the future with an error. Only the first call (of
// Resolve or Fail) has any effect.
func (f *Future[T]) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed once the future resolves, for use in
// select statements alongside a caller's own cancellation signal.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is cancelled, whichever
// happens first. A cancelled context does not resolve the future
// itself; it only stops this particular caller from waiting on it.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Succeeded reports whether the future has resolved, and if so,
// whether it resolved successfully. It is non-blocking and intended
// for tests and diagnostics.
func (f *Future[T]) Succeeded() (resolved, ok bool) {
	select {
	case <-f.done:
		return true, f.err == nil
	default:
		return false, false
	}
}
