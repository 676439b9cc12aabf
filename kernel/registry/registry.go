// Package registry implements the process-wide instance registry of
// §4.B: the single table of loaded instances, the global symbol index,
// namespace reference counts, and the dependency DAG's cycle check.
//
// Grounded on the teacher's kernel/threads/registry/loader.go
// (ModuleRegistry's mutex-guarded maps and GetDependencyOrder's
// Kahn's-algorithm cycle/ordering check), generalized from that file's
// load-order computation into an incremental add-edge cycle check
// since the registry never needs a full topological sort — only "does
// this one new edge close a cycle."
package registry

import (
	"sync"

	"github.com/nmxmxh/modhost/kernel/moderr"
	"github.com/nmxmxh/modhost/kernel/modcore"
)

// SymbolRef names one exported symbol and the instance that owns it.
type SymbolRef struct {
	Name      string
	Namespace string
	Version   modcore.Version
	Owner     string
}

// Instance is the minimal surface the registry needs from an instance
// handle. Defined here (rather than importing the instance package
// directly) so registry stays a leaf package the instance package can
// depend on, instead of the two importing each other.
type Instance interface {
	Name() string
	IsDetached() bool
	Exports() []SymbolRef
	ImportedNamespaces() []string
}

type symbolKey struct {
	name      string
	namespace string
}

// State is the registry's global serial flag (§4.E S0: "transition the
// registry state to LoadingSet").
type State int

const (
	Idle State = iota
	LoadingSet
)

// Registry is the single process-wide table described in §4.B/§3.
type Registry struct {
	mu sync.Mutex

	instances map[string]Instance
	symbols   map[symbolKey][]SymbolRef // unordered; GetSymbolCompatible scans for the highest match
	nsRefs    map[string]int

	// dependency DAG: edges[dependent] = set of dependency names.
	edges      map[string]map[string]struct{}
	dependents map[string]int

	state       State
	waiters     []chan struct{} // FIFO of goroutines waiting for Idle
}

func New() *Registry {
	return &Registry{
		instances:  make(map[string]Instance),
		symbols:    make(map[symbolKey][]SymbolRef),
		nsRefs:     make(map[string]int),
		edges:      make(map[string]map[string]struct{}),
		dependents: make(map[string]int),
	}
}

// AddInstance inserts handle, indexing every exported symbol and
// bumping namespace refcounts for every namespace it imports (§4.B).
func (r *Registry) AddInstance(h Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if _, exists := r.instances[name]; exists {
		return moderr.New("add_instance", moderr.Duplicate, name)
	}

	for _, sym := range h.Exports() {
		key := symbolKey{sym.Name, sym.Namespace}
		if _, dup := r.symbols[key]; dup {
			return moderr.New("add_instance", moderr.Duplicate, sym.Name)
		}
	}

	r.instances[name] = h
	for _, sym := range h.Exports() {
		key := symbolKey{sym.Name, sym.Namespace}
		r.symbols[key] = append(r.symbols[key], sym)
	}
	for _, ns := range h.ImportedNamespaces() {
		r.nsRefs[ns]++
	}
	return nil
}

// RemoveInstance is the symmetric teardown: must be called with the
// instance already detached from its dependency edges (§4.B).
func (r *Registry) RemoveInstance(h Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if _, exists := r.instances[name]; !exists {
		return moderr.New("remove_instance", moderr.NotFound, name)
	}

	for _, sym := range h.Exports() {
		key := symbolKey{sym.Name, sym.Namespace}
		refs := r.symbols[key]
		for i, ref := range refs {
			if ref.Owner == name {
				refs = append(refs[:i], refs[i+1:]...)
				break
			}
		}
		if len(refs) == 0 {
			delete(r.symbols, key)
		} else {
			r.symbols[key] = refs
		}
	}
	for _, ns := range h.ImportedNamespaces() {
		r.nsRefs[ns]--
		if r.nsRefs[ns] <= 0 {
			delete(r.nsRefs, ns)
		}
	}
	delete(r.instances, name)
	delete(r.edges, name)
	delete(r.dependents, name)
	return nil
}

// LinkInstances adds a dependency edge dependent -> dependency after
// checking the three conditions of §4.B: distinct instances, no
// introduced cycle, both sides alive.
func (r *Registry) LinkInstances(dependent, dependency Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, b := dependent.Name(), dependency.Name()
	if a == b {
		return moderr.New("link_instances", moderr.NotPermitted, a)
	}
	// The dependent need not be registered yet: the init state machine
	// links an instance's static imports before the load op registers it.
	if dependent.IsDetached() {
		return moderr.New("link_instances", moderr.NotFound, a)
	}
	if _, ok := r.instances[b]; !ok || dependency.IsDetached() {
		return moderr.New("link_instances", moderr.NotFound, b)
	}
	if r.reaches(b, a) {
		return moderr.New("link_instances", moderr.CyclicDependency, a)
	}

	if r.edges[a] == nil {
		r.edges[a] = make(map[string]struct{})
	}
	r.edges[a][b] = struct{}{}
	r.dependents[b]++
	return nil
}

// UnlinkInstances removes a dependency edge, decrementing the
// dependency's dependents_count.
func (r *Registry) UnlinkInstances(dependent, dependency Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, b := dependent.Name(), dependency.Name()
	if set, ok := r.edges[a]; ok {
		if _, present := set[b]; present {
			delete(set, b)
			r.dependents[b]--
			if r.dependents[b] <= 0 {
				delete(r.dependents, b)
			}
			return nil
		}
	}
	return moderr.New("unlink_instances", moderr.NotADependency, b)
}

// reaches reports whether there is a directed path from -> to over the
// dependency edges already recorded, used to reject an edge that would
// close a cycle (§7 invariant 5).
func (r *Registry) reaches(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range r.edges[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// DependentsCount returns the number of dependency edges pointing at
// name, for canUnload checks.
func (r *Registry) DependentsCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dependents[name]
}

// GetSymbolCompatible returns the highest version satisfying required,
// or false if none is found.
func (r *Registry) GetSymbolCompatible(name, namespace string, required modcore.Version) (SymbolRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	refs := r.symbols[symbolKey{name, namespace}]
	var best *SymbolRef
	for i := range refs {
		if !refs[i].Version.Satisfies(required) {
			continue
		}
		if best == nil || best.Version.Less(refs[i].Version) {
			best = &refs[i]
		}
	}
	if best == nil {
		return SymbolRef{}, false
	}
	return *best, true
}

// HasSymbol reports whether any version of (name, namespace) is
// already registered, regardless of whether it satisfies any
// particular version requirement — used to detect an export that would
// conflict with an already-loaded registry symbol (§4.E check 3).
func (r *Registry) HasSymbol(name, namespace string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs, ok := r.symbols[symbolKey{name, namespace}]
	return ok && len(refs) > 0
}

func (r *Registry) RefNamespace(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nsRefs[name]++
}

func (r *Registry) UnrefNamespace(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nsRefs[name]--
	if r.nsRefs[name] <= 0 {
		delete(r.nsRefs, name)
	}
}

// NamespaceExists reports whether name has a positive refcount.
func (r *Registry) NamespaceExists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nsRefs[name] > 0
}

// Lookup returns the instance registered under name, if any.
func (r *Registry) Lookup(name string) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.instances[name]
	return h, ok
}

// AcquireLoadingSet implements the global serial state of §4.B: at
// most one commit may hold LoadingSet at a time. If the registry is
// already LoadingSet, the caller is queued FIFO and the returned
// channel closes once ReleaseLoadingSet has handed the LoadingSet state
// to this caller, which then holds it without acquiring again.
func (r *Registry) AcquireLoadingSet() (acquired bool, wait <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Idle {
		r.state = LoadingSet
		return true, nil
	}
	ch := make(chan struct{})
	r.waiters = append(r.waiters, ch)
	return false, ch
}

// ReleaseLoadingSet restores Idle and wakes exactly one queued waiter,
// per §4.E Unwind's "wake one queued commit waiter if any."
func (r *Registry) ReleaseLoadingSet() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.waiters) == 0 {
		r.state = Idle
		return
	}
	next := r.waiters[0]
	r.waiters = r.waiters[1:]
	r.state = LoadingSet // handed directly to the next waiter
	close(next)
}
