package taskexec

import "sync/atomic"

// Waker is a reference-counted capability that re-enqueues a task when
// something it was waiting on makes progress. Wake is idempotent
// between polls: calling it any number of times before the next Poll
// causes at most one re-enqueue, matching "calling wake on a task's
// waker must cause the task to be re-enqueued at most once per wake
// (idempotent until the next poll)".
//
// Grounded on kernel/threads/foundation/epoch.go's waiter-channel
// fan-out: a waiter registers once, is notified once, and removes
// itself — here folded into a single refcounted struct per task
// instead of a slice of channels, since each task owns exactly one
// waker identity across its lifetime.
type Waker struct {
	refs    atomic.Int64
	pending atomic.Bool // true once Wake has fired and re-enqueue is outstanding
	onWake  func()
}

func newWaker(onWake func()) *Waker {
	w := &Waker{onWake: onWake}
	w.refs.Store(1)
	return w
}

// Clone increments the refcount and returns the same waker (wakers are
// cheap to share; cloning never allocates a new identity).
func (w *Waker) Clone() *Waker {
	w.refs.Add(1)
	return w
}

// Drop decrements the refcount. Wakers have no resources beyond the
// refcount itself, so Drop never runs cleanup — it exists purely to
// satisfy the clone/drop/wake/wake_and_drop contract symmetrically.
func (w *Waker) Drop() {
	w.refs.Add(-1)
}

// Wake re-enqueues the owning task, at most once until the next Poll
// clears the pending flag.
func (w *Waker) Wake() {
	if w.pending.CompareAndSwap(false, true) {
		w.onWake()
	}
}

// WakeAndDrop wakes then drops in one call, the common pattern at
// delivery sites ("every enter/wait path clones before storing and
// wake_and_drops on delivery").
func (w *Waker) WakeAndDrop() {
	w.Wake()
	w.Drop()
}

// clearPending is called by the executor immediately before polling a
// task, so a Wake arriving during that poll schedules exactly one more
// run afterward.
func (w *Waker) clearPending() {
	w.pending.Store(false)
}
