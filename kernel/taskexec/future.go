// Package taskexec implements the task runtime (component A): a
// single-threaded cooperative future executor driving every other
// component (module initialization, symbol construction, start/stop
// events) on one event-loop goroutine, backed by wakers.
//
// Grounded on the teacher's kernel/threads/foundation/epoch.go waiter
// list (wake fan-out) and kernel/lifecycle.go's atomic state + WaitGroup
// drain idiom; see DESIGN.md.
package taskexec

// Future is the Go-idiomatic reading of the spec's erased future: a
// heap-allocated state machine polled to completion by an Executor.
// Poll must be non-blocking: it either returns the final value with
// done=true, or signals Pending by returning done=false, having first
// arranged for w.Wake to be called again once progress is possible.
type Future[T any] interface {
	Poll(w *Waker) (value T, done bool, err error)
}

// FutureFunc adapts a plain poll function into a Future, the common
// case for small state machines expressed as a closure over local
// state rather than a named struct.
type FutureFunc[T any] func(w *Waker) (T, bool, error)

func (f FutureFunc[T]) Poll(w *Waker) (T, bool, error) { return f(w) }

// Ready constructs a Future that is immediately complete with value v.
func Ready[T any](v T) Future[T] {
	return FutureFunc[T](func(*Waker) (T, bool, error) { return v, true, nil })
}

// Failed constructs a Future that is immediately complete with err.
func Failed[T any](err error) Future[T] {
	var zero T
	return FutureFunc[T](func(*Waker) (T, bool, error) { return zero, true, err })
}
