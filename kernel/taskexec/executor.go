package taskexec

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmxmxh/modhost/kernel/moderr"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// task is the type-erased heap-allocated node the executor drives:
// "an optional cleanup routine for input data, a result slot, and an
// intrusive queue node" (§4.A).
type task struct {
	poll    func(w *Waker) (done bool, err error)
	cleanup func()
	waker   *Waker
	next    *task // intrusive FIFO link
}

// Executor is the single-threaded cooperative scheduler of component A:
// one event-loop goroutine owns a FIFO queue of ready tasks.
//
// Grounded on kernel/lifecycle.go's atomic-state + sync.WaitGroup drain
// (Shutdown: cancel(); wg.Wait()) for the running-task accounting, and
// kernel/threads/foundation/epoch.go's waiter-channel idiom for the
// underlying wake signal.
type Executor struct {
	mu           sync.Mutex
	head, tail   *task
	signal       chan struct{}
	runningTasks atomic.Int64
	shouldQuit   atomic.Bool
	drained      chan struct{}
	once         sync.Once

	// admission shedding: a flooded ready queue rejects new work rather
	// than growing unboundedly. Grounded on the teacher's
	// kernel/core/mesh/routing/gossip.go use of
	// github.com/yasserelgammal/rate-limiter (token bucket, per-key
	// Allow), here keyed by a constant "enqueue" bucket shared by the
	// whole executor rather than per-peer.
	admission      *limiter.TokenBucket
	admissionStore store.Store
}

// NewExecutor constructs an Executor whose Enqueue admits at most
// maxPerSecond new tasks per second, with the given burst allowance.
// A non-positive maxPerSecond disables shedding.
func NewExecutor(maxPerSecond, burst int64) *Executor {
	e := &Executor{
		signal:  make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	if maxPerSecond > 0 {
		e.admissionStore = store.NewMemoryStore(time.Minute)
		tb, err := limiter.NewTokenBucket(limiter.Config{
			Rate:     maxPerSecond,
			Duration: time.Second,
			Burst:    burst,
		}, e.admissionStore)
		if err == nil {
			e.admission = tb
		}
	}
	go e.run()
	return e
}

// Enqueue wraps f as a task, pushes it onto the ready queue and signals
// the event loop. It returns a *TaskHandle usable for chaining via
// another future's waker.
func Enqueue[T any](e *Executor, f Future[T]) (*TaskHandle[T], error) {
	if e.admission != nil && !e.admission.Allow("enqueue") {
		return nil, moderr.New("enqueue", moderr.OperationFailed, "executor")
	}
	h := &TaskHandle[T]{done: make(chan struct{})}
	t := &task{}
	w := newWaker(func() { e.schedule(t) })
	t.waker = w
	t.poll = func(w *Waker) (bool, error) {
		v, done, err := f.Poll(w)
		if done {
			h.value, h.err = v, err
			close(h.done)
		}
		return done, err
	}
	e.runningTasks.Add(1)
	e.pushReady(t)
	return h, nil
}

// TaskHandle observes the eventual result of an enqueued future from
// elsewhere (including from inside another future's Poll, by treating
// Future() as a sub-future to await).
type TaskHandle[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Future adapts the handle into a pollable Future so one task can await
// another's completion — the "handle usable for polling the eventual
// result from another future (via a chained waker)" from §4.A.
func (h *TaskHandle[T]) Future() Future[T] {
	return FutureFunc[T](func(w *Waker) (T, bool, error) {
		select {
		case <-h.done:
			return h.value, true, h.err
		default:
			go func() {
				<-h.done
				w.Wake()
			}()
			var zero T
			return zero, false, nil
		}
	})
}

func (e *Executor) pushReady(t *task) {
	e.mu.Lock()
	if e.tail == nil {
		e.head, e.tail = t, t
	} else {
		e.tail.next = t
		e.tail = t
	}
	e.mu.Unlock()
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// schedule re-enqueues an already-counted task. Unlike Enqueue, it never
// refuses (no admission check) and ignores shouldQuit: a task that is
// already running must still be driven to completion during shutdown
// ("blocks until they drain").
func (e *Executor) schedule(t *task) {
	e.pushReady(t)
}

func (e *Executor) popReady() *task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.head == nil {
		return nil
	}
	t := e.head
	e.head = t.next
	if e.head == nil {
		e.tail = nil
	}
	t.next = nil
	return t
}

// run is the single event-loop goroutine.
func (e *Executor) run() {
	for {
		t := e.popReady()
		if t == nil {
			if e.shouldQuit.Load() && e.runningTasks.Load() == 0 {
				e.once.Do(func() { close(e.drained) })
				return
			}
			<-e.signal
			continue
		}
		t.waker.clearPending()
		done, _ := t.poll(t.waker)
		if done {
			if t.cleanup != nil {
				t.cleanup()
			}
			e.runningTasks.Add(-1)
		}
		if e.shouldQuit.Load() && e.runningTasks.Load() == 0 {
			e.pushSignalForDrainCheck()
		}
	}
}

func (e *Executor) pushSignalForDrainCheck() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// BlockOnContext is the single-owner "blocking context" of §4.A: at
// most one caller goroutine may block on a given context at a time,
// enforced by panicking on a second concurrent blocker.
type BlockOnContext[T any] struct {
	inUse atomic.Bool
}

// BlockOn synchronously parks the calling goroutine until f completes,
// driving f via e. Panics if another goroutine is already blocked on
// the same BlockOnContext.
func BlockOn[T any](e *Executor, ctx *BlockOnContext[T], f Future[T]) (T, error) {
	if !ctx.inUse.CompareAndSwap(false, true) {
		panic("taskexec: BlockOn: context already has a blocked waiter")
	}
	defer ctx.inUse.Store(false)

	result := make(chan struct{})
	var value T
	var ferr error

	t := &task{}
	w := newWaker(func() { e.schedule(t) })
	t.waker = w
	t.poll = func(w *Waker) (bool, error) {
		v, done, err := f.Poll(w)
		if done {
			value, ferr = v, err
			close(result)
		}
		return done, err
	}
	e.runningTasks.Add(1)
	e.pushReady(t)
	<-result
	return value, ferr
}

// Drive synchronously exhausts a future on the calling goroutine
// without going through the executor's queue — used by state machines
// (InitExportedOp, etc.) to "drive it to completion (yielding
// cooperatively)" inline, spinning on its own waker until Poll reports
// done. This never touches e's ready queue or running-task count; it
// exists for sub-futures a state machine owns outright.
func Drive[T any](f Future[T]) (T, error) {
	done := make(chan struct{}, 1)
	var w *Waker
	w = newWaker(func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	for {
		w.clearPending()
		v, ok, err := f.Poll(w)
		if ok {
			return v, err
		}
		<-done
	}
}

// Shutdown marks the executor as quitting and blocks until every
// outstanding task has drained, mirroring kernel/lifecycle.go's
// Shutdown (cancel(); wg.Wait()): "attempting to deinit the task
// subsystem while tasks remain blocks until they drain."
func (e *Executor) Shutdown() {
	e.shouldQuit.Store(true)
	e.pushSignalForDrainCheck()
	<-e.drained
}
