// Package instance implements the per-instance handle of §4.C: the
// mutable state (parameters, symbols, namespaces, dependency edges,
// lifecycle state, reference counts) behind one loaded module, plus
// the Uninit -> Init -> Started lifecycle state machine and its
// detach/unload gating.
//
// Grounded on kernel/lifecycle.go's atomic.Int32 state +
// CompareAndSwap transitionState idiom (generalized from that file's
// fixed Kernel states to the spec's three-state instance lifecycle)
// and kernel/threads/registry/loader.go's dependency bookkeeping
// (delegated here to the registry package rather than duplicated).
package instance

import (
	"sync"
	"sync/atomic"

	"github.com/nmxmxh/modhost/kernel/arena"
	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/nmxmxh/modhost/kernel/moderr"
	"github.com/nmxmxh/modhost/kernel/registry"
	"github.com/nmxmxh/modhost/kernel/taskexec"
)

type State int32

const (
	Uninit State = iota
	Init
	Started
)

// NamespaceKind distinguishes a namespace an instance declared as a
// static import (cannot be removed) from one added dynamically at
// runtime via AddNamespace.
type NamespaceKind int

const (
	Dynamic NamespaceKind = iota
	Static
)

type symbolKey struct{ name, namespace string }

// Symbol is one entry of an instance's symbol table, §3's
// "symbols: (name, namespace) -> Symbol { version, ptr, optional dtor }".
type Symbol struct {
	Name      string
	Namespace string
	Version   modcore.Version
	Value     any
	Dtor      func(instance any, value any) taskexec.Future[struct{}]
}

type dependencyEdge struct {
	target *Instance
	kind   NamespaceKind // Static (declared import) or Dynamic (added via AddDependency)
}

// Instance is the mutable, shared, reference-counted handle of §3/§4.C.
type Instance struct {
	name        string
	description string
	author      string
	license     string
	modulePath  string

	export *modcore.Export
	reg    *registry.Registry
	arena  *arena.Arena

	state           atomic.Int32
	isDetached      atomic.Bool
	unloadRequested atomic.Bool
	outerRefs       atomic.Int64
	strongCount     atomic.Int64

	mu           sync.Mutex
	parameters   map[string]*modcore.Parameter
	resources    map[string]string
	userState    any
	symbols      map[symbolKey]Symbol
	symbolOrder  []symbolKey // insertion order, for reverse-order destruction
	namespaces   map[string]NamespaceKind
	dependencies map[string]dependencyEdge
	unloadWaker  *taskexec.Waker
}

// New constructs an Instance in state Uninit, empty of everything
// except its identity and a fresh arena. Populated by InitExportedOp.
func New(name, description, author, license, modulePath string, export *modcore.Export, reg *registry.Registry) *Instance {
	i := &Instance{
		name:         name,
		description:  description,
		author:       author,
		license:      license,
		modulePath:   modulePath,
		export:       export,
		reg:          reg,
		arena:        arena.New(),
		parameters:   make(map[string]*modcore.Parameter),
		symbols:      make(map[symbolKey]Symbol),
		namespaces:   make(map[string]NamespaceKind),
		dependencies: make(map[string]dependencyEdge),
	}
	i.outerRefs.Store(1)
	return i
}

func (i *Instance) Name() string       { return i.name }
func (i *Instance) ModulePath() string { return i.modulePath }
func (i *Instance) State() State    { return State(i.state.Load()) }
func (i *Instance) IsDetached() bool { return i.isDetached.Load() }
func (i *Instance) Arena() *arena.Arena { return i.arena }
func (i *Instance) Export() *modcore.Export { return i.export }

// Exports satisfies registry.Instance: the current symbol table as
// SymbolRefs, owner-stamped.
func (i *Instance) Exports() []registry.SymbolRef {
	i.mu.Lock()
	defer i.mu.Unlock()
	refs := make([]registry.SymbolRef, 0, len(i.symbolOrder))
	for _, k := range i.symbolOrder {
		s := i.symbols[k]
		refs = append(refs, registry.SymbolRef{Name: s.Name, Namespace: s.Namespace, Version: s.Version, Owner: i.name})
	}
	return refs
}

// ImportedNamespaces satisfies registry.Instance.
func (i *Instance) ImportedNamespaces() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.namespaces))
	for ns := range i.namespaces {
		out = append(out, ns)
	}
	return out
}

// transitionState performs a CAS-guarded lifecycle transition,
// mirroring kernel/lifecycle.go's transitionState.
func (i *Instance) transitionState(from, to State) bool {
	return i.state.CompareAndSwap(int32(from), int32(to))
}

// MarkInit is called by InitExportedOp once user init succeeds.
func (i *Instance) MarkInit() { i.transitionState(Uninit, Init) }

// MarkStarted is called by StartInstanceOp.
func (i *Instance) MarkStarted() { i.transitionState(Init, Started) }

// RefStrong increments the caller-held usage pin that prevents unload.
func (i *Instance) RefStrong() { i.strongCount.Add(1) }

// UnrefStrong decrements the pin and attempts to unblock a pending
// unload (§4.C "unrefStrong ... call unblockUnload").
func (i *Instance) UnrefStrong() {
	i.strongCount.Add(-1)
	i.unblockUnload()
}

func (i *Instance) canUnload() bool {
	return i.strongCount.Load() == 0 && i.reg.DependentsCount(i.name) == 0
}

// CanUnload reports whether strong_count and dependents_count have
// both reached zero (§7 invariant 2).
func (i *Instance) CanUnload() bool { return i.canUnload() }

func (i *Instance) unblockUnload() {
	i.mu.Lock()
	w := i.unloadWaker
	requested := i.unloadRequested.Load()
	i.mu.Unlock()
	if requested && i.canUnload() && w != nil {
		w.WakeAndDrop()
	}
}

// QueryNamespace reports whether name is absent, dynamically added, or
// a static import.
func (i *Instance) QueryNamespace(name string) (present bool, kind NamespaceKind) {
	i.mu.Lock()
	defer i.mu.Unlock()
	k, ok := i.namespaces[name]
	return ok, k
}

// AddNamespace adds a dynamic namespace import, bumping the registry's
// refcount. Fails NotPermitted on the reserved global (empty) name,
// Duplicate on re-add.
func (i *Instance) AddNamespace(name string) error {
	if name == "" {
		return moderr.New("add_namespace", moderr.NotPermitted, name)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.namespaces[name]; exists {
		return moderr.New("add_namespace", moderr.Duplicate, name)
	}
	i.namespaces[name] = Dynamic
	i.reg.RefNamespace(name)
	return nil
}

// RemoveNamespace removes a dynamically-added namespace. Fails
// NotPermitted for the global namespace or a statically-declared one.
func (i *Instance) RemoveNamespace(name string) error {
	if name == "" {
		return moderr.New("remove_namespace", moderr.NotPermitted, name)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	kind, exists := i.namespaces[name]
	if !exists {
		return moderr.New("remove_namespace", moderr.NotFound, name)
	}
	if kind == Static {
		return moderr.New("remove_namespace", moderr.NotPermitted, name)
	}
	delete(i.namespaces, name)
	i.reg.UnrefNamespace(name)
	return nil
}

// AddStaticNamespace is used by the init state machine to install a
// namespace import declared by the export, which RemoveNamespace must
// then refuse to remove. The registry refcount for it is taken once,
// by registry.AddInstance reading ImportedNamespaces() at add-instance
// time — not here — so init-time static imports aren't double-counted
// against the later single decrement in registry.RemoveInstance.
func (i *Instance) AddStaticNamespace(name string) error {
	if i.reg.NamespaceExists(name) {
		i.mu.Lock()
		i.namespaces[name] = Static
		i.mu.Unlock()
		return nil
	}
	return moderr.New("add_static_namespace", moderr.NotFound, name)
}

// QueryDependency reports whether other is already a recorded
// dependency and, if so, whether it was declared Static or added
// Dynamic.
func (i *Instance) QueryDependency(other *Instance) (present bool, kind NamespaceKind) {
	i.mu.Lock()
	defer i.mu.Unlock()
	edge, ok := i.dependencies[other.name]
	return ok, edge.kind
}

// AddDependency records a dependency edge to other via the registry
// (enforcing acyclicity) and stores it locally.
func (i *Instance) AddDependency(other *Instance) error {
	i.mu.Lock()
	if _, exists := i.dependencies[other.name]; exists {
		i.mu.Unlock()
		return moderr.New("add_dependency", moderr.Duplicate, other.name)
	}
	i.mu.Unlock()

	if err := i.reg.LinkInstances(i, other); err != nil {
		return err
	}
	i.mu.Lock()
	i.dependencies[other.name] = dependencyEdge{target: other, kind: Dynamic}
	i.mu.Unlock()
	return nil
}

// AddStaticDependency is AddDependency's init-state-machine
// counterpart: the edge is recorded as Static so RemoveDependency
// refuses to drop it later.
func (i *Instance) AddStaticDependency(other *Instance) error {
	i.mu.Lock()
	if _, exists := i.dependencies[other.name]; exists {
		i.mu.Unlock()
		return nil
	}
	i.mu.Unlock()
	if err := i.reg.LinkInstances(i, other); err != nil {
		return err
	}
	i.mu.Lock()
	i.dependencies[other.name] = dependencyEdge{target: other, kind: Static}
	i.mu.Unlock()
	return nil
}

// RemoveDependency drops a dynamically-added dependency edge. Removing
// a Static one fails NotPermitted.
func (i *Instance) RemoveDependency(other *Instance) error {
	i.mu.Lock()
	edge, exists := i.dependencies[other.name]
	if !exists {
		i.mu.Unlock()
		return moderr.New("remove_dependency", moderr.NotADependency, other.name)
	}
	if edge.kind == Static {
		i.mu.Unlock()
		return moderr.New("remove_dependency", moderr.NotPermitted, other.name)
	}
	delete(i.dependencies, other.name)
	i.mu.Unlock()

	if err := i.reg.UnlinkInstances(i, other); err != nil {
		return err
	}
	other.unblockUnload()
	return nil
}

// LoadSymbol resolves a symbol by name/namespace/required version,
// requiring the owner to already be a recorded dependency and the
// namespace to be either global ("") or one of i's imports.
func (i *Instance) LoadSymbol(name, namespace string, required modcore.Version) (*Symbol, error) {
	ref, ok := i.reg.GetSymbolCompatible(name, namespace, required)
	if !ok {
		return nil, moderr.New("load_symbol", moderr.NotFound, name)
	}
	if namespace != "" {
		present, _ := i.QueryNamespace(namespace)
		if !present {
			return nil, moderr.New("load_symbol", moderr.NotPermitted, namespace)
		}
	}
	i.mu.Lock()
	_, isDep := i.dependencies[ref.Owner]
	i.mu.Unlock()
	if !isDep {
		return nil, moderr.New("load_symbol", moderr.NotADependency, ref.Owner)
	}

	owner, ok := i.reg.Lookup(ref.Owner)
	if !ok {
		return nil, moderr.New("load_symbol", moderr.NotFound, ref.Owner)
	}
	ownerInst, ok := owner.(*Instance)
	if !ok {
		return nil, moderr.New("load_symbol", moderr.NotFound, ref.Owner)
	}
	ownerInst.mu.Lock()
	sym, ok := ownerInst.symbols[symbolKey{name, namespace}]
	ownerInst.mu.Unlock()
	if !ok {
		return nil, moderr.New("load_symbol", moderr.NotFound, name)
	}
	return &sym, nil
}

// ReadParameter / WriteParameter target a dependency module's
// parameter, per §4.C: the target must already be a dependency and the
// caller's effective access group is Dependency.
func (i *Instance) ReadParameter(typ modcore.ParamType, module, name string) (uint64, error) {
	target, err := i.resolveDependencyParam(module, name)
	if err != nil {
		return 0, err
	}
	return target.Read(typ, modcore.Dependency)
}

func (i *Instance) WriteParameter(typ modcore.ParamType, module, name string, v uint64) error {
	target, err := i.resolveDependencyParam(module, name)
	if err != nil {
		return err
	}
	return target.Write(typ, modcore.Dependency, v)
}

func (i *Instance) resolveDependencyParam(module, name string) (*modcore.Parameter, error) {
	i.mu.Lock()
	_, isDep := i.dependencies[module]
	i.mu.Unlock()
	if !isDep {
		return nil, moderr.New("parameter_access", moderr.NotADependency, module)
	}
	h, ok := i.reg.Lookup(module)
	if !ok {
		return nil, moderr.New("parameter_access", moderr.NotFound, module)
	}
	owner := h.(*Instance)
	owner.mu.Lock()
	p, ok := owner.parameters[name]
	owner.mu.Unlock()
	if !ok {
		return nil, moderr.New("parameter_access", moderr.NotFound, name)
	}
	return p, nil
}

// InstallParameter is the init state machine's step-2 write path.
func (i *Instance) InstallParameter(p *modcore.Parameter) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.parameters[p.Name] = p
}

// InstallResource records a resolved resource path (init state
// machine step 3).
func (i *Instance) InstallResource(name, path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.resources == nil {
		i.resources = make(map[string]string)
	}
	i.resources[name] = path
}

// SetState stores the opaque state pointer produced by the export's
// user init poll (init state machine step 6).
func (i *Instance) SetState(state any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.userState = state
}

// UserState returns the opaque state pointer installed by SetState.
func (i *Instance) UserState() any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.userState
}

// InstallSymbol is the init state machine's step-7 write path.
func (i *Instance) InstallSymbol(s Symbol) {
	i.mu.Lock()
	defer i.mu.Unlock()
	key := symbolKey{s.Name, s.Namespace}
	if _, exists := i.symbols[key]; !exists {
		i.symbolOrder = append(i.symbolOrder, key)
	}
	i.symbols[key] = s
}

// Stop transitions Started -> Init, running the export's Stop poll (if
// any) with both the registry lock and this instance's lock released
// for the duration, per §4.C. is_detached is set transiently so
// concurrent operations see the instance as unavailable while stop
// runs, then cleared once the transition completes.
func (i *Instance) Stop() error {
	if !i.transitionState(Started, Init) {
		return nil
	}
	if i.export.Stop == nil {
		return nil
	}
	i.isDetached.Store(true)
	_, err := taskexec.Drive(i.export.Stop(i))
	i.isDetached.Store(false)
	return err
}

// Detach asserts canUnload and state != Started, runs the export's
// Deinit poll, destructs every installed symbol in reverse order, then
// clears every table and frees the arena wholesale (§4.C "detach").
func (i *Instance) Detach() error {
	if !i.canUnload() {
		return moderr.New("detach", moderr.NotPermitted, i.name)
	}
	if i.State() == Started {
		return moderr.New("detach", moderr.NotPermitted, i.name)
	}

	if i.export.Deinit != nil {
		if _, err := taskexec.Drive(i.export.Deinit(i)); err != nil {
			return moderr.Wrap("detach", moderr.OperationFailed, i.name, err)
		}
	}

	i.mu.Lock()
	order := i.symbolOrder
	symbols := i.symbols
	i.symbolOrder = nil
	i.symbols = make(map[symbolKey]Symbol)
	i.parameters = make(map[string]*modcore.Parameter)
	i.namespaces = make(map[string]NamespaceKind)
	i.dependencies = make(map[string]dependencyEdge)
	i.mu.Unlock()

	for idx := len(order) - 1; idx >= 0; idx-- {
		s := symbols[order[idx]]
		if s.Dtor != nil {
			taskexec.Drive(s.Dtor(i, s.Value))
		}
	}

	i.arena.FreeAll()
	i.isDetached.Store(true)
	i.export = nil
	return nil
}

// EnqueueUnload is the idempotent trigger of §4.C/§4.G: a no-op if
// already unloading or detached, otherwise marks unload_requested and
// installs waker, resolved once canUnload becomes true.
func (i *Instance) EnqueueUnload(waker *taskexec.Waker) (alreadyDone bool) {
	if i.isDetached.Load() {
		return true
	}
	if !i.unloadRequested.CompareAndSwap(false, true) {
		return false
	}
	if i.canUnload() {
		return true
	}
	i.mu.Lock()
	i.unloadWaker = waker.Clone()
	i.mu.Unlock()
	return false
}
