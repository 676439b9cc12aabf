// Package loadset implements the loading set of §4.D: the staging
// area for a batch of module exports pending commit, with export
// validation and symbol deduplication.
//
// Grounded on the teacher's kernel/threads/registry/loader.go for the
// "enumerate candidate exports, validate, install" shape of
// AddModulesFromLocal (readEnhancedEntry/parseModule there plays the
// role this package's ModuleHandle.IterateExports + ValidateExport
// play here), and on github.com/bits-and-blooms/bloom/v3 for the
// local symbol dedup index's prefilter — directly used by the teacher
// in kernel/core/mesh/routing/gossip.go for the same
// "probably-already-seen, fall back to the exact index" shape.
package loadset

import (
	"sync"

	bloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/nmxmxh/modhost/kernel/instance"
	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/nmxmxh/modhost/kernel/moderr"
	"github.com/nmxmxh/modhost/kernel/taskexec"
)

// StatusKind is the tag of a ModuleInfo's status union (§3's
// "status ∈ {Unloaded, Err, Loaded}").
type StatusKind int

const (
	Unloaded StatusKind = iota
	Err
	Loaded
)

// ModuleInfo tracks one pending (or resolved) module within a loading
// set.
type ModuleInfo struct {
	Export   *modcore.Export
	Owner    *instance.Instance // optional: the instance that submitted this export, if any
	Status   StatusKind
	Wakers   []*taskexec.Waker // queued while Unloaded
	Instance *instance.Instance // set once Status == Loaded
}

type symbolKey struct{ name, namespace string }

type symbolOwner struct {
	owner   string
	version modcore.Version
}

// ModuleHandle is the opaque module handle of §1/§6: a source of
// candidate exports, enumerated via IterateExports. Dynamic-library
// discovery and binary-section scanning that would construct a
// ModuleHandle are out of this package's scope (external collaborator,
// per §1's explicit non-goal list); callers supply their own handle,
// e.g. one backed by a package's own init-time export registration.
type ModuleHandle interface {
	IterateExports(visit func(export *modcore.Export) bool)
}

// LoadingSet is the append-until-commit staging area of §4.D.
type LoadingSet struct {
	mu sync.Mutex

	moduleInfos map[string]*ModuleInfo
	symbols     map[symbolKey]symbolOwner
	dedupFilter *bloom.BloomFilter

	ActiveCommits     int
	ActiveLoadGraph   any // set by the loadgraph package for the duration of a commit
	ShouldRecreateMap bool
}

// New constructs an empty loading set sized for an expected number of
// symbols, used to size the bloom prefilter.
func New(expectedSymbols uint, falsePositiveRate float64) *LoadingSet {
	return &LoadingSet{
		moduleInfos: make(map[string]*ModuleInfo),
		symbols:     make(map[symbolKey]symbolOwner),
		dedupFilter: bloom.NewWithEstimates(expectedSymbols, falsePositiveRate),
	}
}

func symbolFilterKey(name, namespace string) []byte {
	return []byte(namespace + "\x00" + name)
}

// hasSymbol checks the bloom prefilter first (cheap, may false-positive)
// and only then consults the exact index.
func (s *LoadingSet) hasSymbol(name, namespace string) bool {
	if !s.dedupFilter.Test(symbolFilterKey(name, namespace)) {
		return false
	}
	_, exists := s.symbols[symbolKey{name, namespace}]
	return exists
}

// AddModuleInner validates export, rejects a duplicate module name or
// a duplicate (symbol_name, namespace) across the set's pending
// exports, installs the export's symbols into the set's index, and
// stores a ModuleInfo{Unloaded}. If owner is non-nil, its strong count
// is bumped so it cannot be unloaded while the export awaits commit.
func (s *LoadingSet) AddModuleInner(export *modcore.Export, owner *instance.Instance) error {
	if err := modcore.ValidateExport(export); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.moduleInfos[export.Name]; exists {
		return moderr.New("add_module", moderr.Duplicate, export.Name)
	}
	for _, ex := range export.SymbolExports {
		if s.hasSymbol(ex.Name, ex.Namespace) {
			return moderr.New("add_module", moderr.Duplicate, ex.Name)
		}
	}

	s.moduleInfos[export.Name] = &ModuleInfo{Export: export, Owner: owner, Status: Unloaded}
	for _, ex := range export.SymbolExports {
		key := symbolKey{ex.Name, ex.Namespace}
		s.symbols[key] = symbolOwner{owner: export.Name, version: ex.Version}
		s.dedupFilter.Add(symbolFilterKey(ex.Name, ex.Namespace))
	}
	s.ShouldRecreateMap = true
	if owner != nil {
		owner.RefStrong()
	}
	return nil
}

// AddModulesFromLocal enumerates handle's candidate exports, validates
// and filters each, then installs it via AddModuleInner. Any error
// rolls back the whole batch: every export already installed in this
// call is removed and its owner's strong ref released.
func (s *LoadingSet) AddModulesFromLocal(handle ModuleHandle, owner *instance.Instance, filter func(*modcore.Export) bool) error {
	var added []string
	var firstErr error

	handle.IterateExports(func(export *modcore.Export) bool {
		if filter != nil && !filter(export) {
			return true
		}
		if err := s.AddModuleInner(export, owner); err != nil {
			firstErr = err
			return false
		}
		added = append(added, export.Name)
		return true
	})

	if firstErr != nil {
		s.mu.Lock()
		for _, name := range added {
			info := s.moduleInfos[name]
			if info == nil {
				continue
			}
			for _, ex := range info.Export.SymbolExports {
				delete(s.symbols, symbolKey{ex.Name, ex.Namespace})
			}
			delete(s.moduleInfos, name)
			if info.Owner != nil {
				info.Owner.UnrefStrong()
			}
		}
		s.mu.Unlock()
		return firstErr
	}
	return nil
}

// PollResult is the outcome of PollModuleStatus, §4.D's
// poll_module_status: it queues waker if the module is still Unloaded,
// otherwise resolves synchronously.
type PollResult int

const (
	Pending PollResult = iota
	Resolved
	NotFound
)

func (s *LoadingSet) PollModuleStatus(module string, waker *taskexec.Waker) (PollResult, *ModuleInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.moduleInfos[module]
	if !ok {
		return NotFound, nil
	}
	if info.Status == Unloaded {
		if waker != nil {
			info.Wakers = append(info.Wakers, waker.Clone())
		}
		return Pending, nil
	}
	return Resolved, info
}

// MarkErr transitions module to Err, waking every queued waker.
func (s *LoadingSet) MarkErr(module string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.moduleInfos[module]
	if !ok {
		return
	}
	info.Status = Err
	for _, w := range info.Wakers {
		w.WakeAndDrop()
	}
	info.Wakers = nil
}

// MarkLoaded transitions module to Loaded with the resulting instance,
// waking every queued waker.
func (s *LoadingSet) MarkLoaded(module string, inst *instance.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.moduleInfos[module]
	if !ok {
		return
	}
	info.Status = Loaded
	info.Instance = inst
	for _, w := range info.Wakers {
		w.WakeAndDrop()
	}
	info.Wakers = nil
}

// PendingUnloaded returns every module still in Unloaded status, for
// the load graph's spawn_missing_tasks pass.
func (s *LoadingSet) PendingUnloaded() map[string]*ModuleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*ModuleInfo, len(s.moduleInfos))
	for name, info := range s.moduleInfos {
		if info.Status == Unloaded {
			out[name] = info
		}
	}
	return out
}

// OwnerOf returns the module name that exports (name, namespace)
// within this set, if any — the set's symbol index is maintained for
// every module regardless of its current status, so this remains
// accurate even after a producer has resolved to Err or Loaded.
func (s *LoadingSet) OwnerOf(name, namespace string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.symbols[symbolKey{name, namespace}]
	if !ok {
		return "", false
	}
	return owner.owner, true
}

// Lookup returns the ModuleInfo registered under name, if any.
func (s *LoadingSet) Lookup(name string) (*ModuleInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.moduleInfos[name]
	return info, ok
}
