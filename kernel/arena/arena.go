// Package arena implements the per-instance arena allocator from
// spec.md §9: "Each instance owns an arena into which all its child
// allocations (strings, symbols, parameters, resources) go.
// Deallocation is arena-wholesale on detach — no per-field frees."
//
// Adapted from the teacher's kernel/threads/arena/allocator.go
// (HybridAllocator slab+buddy routing, AllocationRequest/Flags,
// GetStats) down to the simpler bump-arena shape this spec actually
// needs: Go values already live on the GC heap, so there is no memory
// layout to route between size classes — what the teacher's allocator
// buys in a SharedArrayBuffer-backed WASM host, this arena buys as a
// single "owned allocations" registry whose sole job is bulk teardown
// and basic accounting, keeping the allocator interface shape
// (AllocationRequest-style tagging, Stats, wholesale Free) intact.
package arena

import (
	"sync"
	"sync/atomic"
)

// Flags mirrors the teacher's AllocFlags tagging, trimmed to the
// subset meaningful once allocations are plain Go values rather than
// raw SAB offsets.
type Flags uint32

const (
	FlagNone       Flags = 0
	FlagPersistent Flags = 1 << 0 // reserved, mirrors teacher's tag; FreeAll does not consult flags, so such entries are finalized like any other
)

// entry is one arena-owned allocation: an opaque value plus an optional
// finalizer run when the arena is freed wholesale.
type entry struct {
	owner    string
	size     uint32
	flags    Flags
	value    any
	finalize func(any)
}

// Arena is a bump-style allocator: Alloc never reuses space, Free is
// always wholesale via FreeAll. Safe for concurrent use since an
// instance's arena may be written to from the event-loop goroutine
// while a caller thread concurrently reads Stats.
type Arena struct {
	mu      sync.Mutex
	entries []entry

	allocated atomic.Uint64
	allocs    atomic.Uint64
	freed     atomic.Bool
}

// New constructs an empty arena.
func New() *Arena { return &Arena{} }

// Alloc records a new arena-owned value under owner (the declaring
// parameter/resource/symbol name, for Stats attribution), with an
// optional finalizer invoked during FreeAll.
func (a *Arena) Alloc(owner string, size uint32, flags Flags, value any, finalize func(any)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed.Load() {
		panic("arena: Alloc after FreeAll")
	}
	a.entries = append(a.entries, entry{owner: owner, size: size, flags: flags, value: value, finalize: finalize})
	a.allocated.Add(uint64(size))
	a.allocs.Add(1)
}

// FreeAll runs every recorded finalizer in reverse allocation order (so
// later allocations, which may reference earlier ones, are torn down
// first) and marks the arena dead. Idempotent: a second call is a
// no-op, matching "detach" being safe to invoke at most once per
// instance but never actually invoked twice in practice.
func (a *Arena) FreeAll() {
	a.mu.Lock()
	if a.freed.Swap(true) {
		a.mu.Unlock()
		return
	}
	entries := a.entries
	a.entries = nil
	a.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.finalize != nil {
			e.finalize(e.value)
		}
	}
}

// Stats reports bulk accounting, mirroring the teacher's HybridStats
// shape (minus the fragmentation metric, which has no meaning once
// allocations aren't packed into a fixed-size buffer).
type Stats struct {
	TotalAllocated uint64
	AllocCount     uint64
	Freed          bool
}

func (a *Arena) Stats() Stats {
	return Stats{
		TotalAllocated: a.allocated.Load(),
		AllocCount:     a.allocs.Load(),
		Freed:          a.freed.Load(),
	}
}
