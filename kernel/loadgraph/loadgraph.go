// Package loadgraph implements the load graph, CommitOp and LoadOp
// state machines of §4.E: the dependency DAG built over a loading
// set's pending modules at commit time, and the per-module async
// pipeline that drives each one from Unloaded to registered instance.
//
// Grounded on kernel/threads/registry/loader.go's GetDependencyOrder
// (Kahn's-algorithm-style topological pass, generalized here into the
// skip-rather-than-fail spawn_missing_tasks pass) and
// kernel/threads/foundation/epoch.go's waiter-channel wake idiom for
// the graph's completion waiter.
package loadgraph

import (
	"sync"

	"github.com/nmxmxh/modhost/kernel/initop"
	"github.com/nmxmxh/modhost/kernel/loadset"
	"github.com/nmxmxh/modhost/kernel/registry"
	"github.com/nmxmxh/modhost/kernel/taskexec"
	"github.com/nmxmxh/modhost/kernel/telemetry"
)

type nodeStatus int

const (
	pending nodeStatus = iota
	running
	succeeded
	failed
)

type node struct {
	name   string
	deps   []string
	status nodeStatus
}

// Graph is the dependency DAG of §4.E, scoped to one commit.
type Graph struct {
	mu           sync.Mutex
	set          *loadset.LoadingSet
	reg          *registry.Registry
	nodes        map[string]*node
	enqueueCount int
	waiter       *taskexec.Waker
	log          *telemetry.Logger
}

func newGraph(set *loadset.LoadingSet, reg *registry.Registry) *Graph {
	return &Graph{
		set:   set,
		reg:   reg,
		nodes: make(map[string]*node),
		log:   telemetry.DefaultLogger("loadgraph"),
	}
}

// onCycle reports whether name participates in a dependency cycle
// among the graph's currently-known edges.
func (g *Graph) onCycle(name string) bool {
	visited := map[string]bool{}
	var visit func(n string) bool
	visit = func(n string) bool {
		if n == name {
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true
		nd, ok := g.nodes[n]
		if !ok {
			return false
		}
		for _, d := range nd.deps {
			if visit(d) {
				return true
			}
		}
		return false
	}
	nd, ok := g.nodes[name]
	if !ok {
		return false
	}
	for _, d := range nd.deps {
		if visit(d) {
			return true
		}
	}
	return false
}

// spawnMissingTasks performs §4.E's skip-rather-than-fail pass: for
// every Unloaded ModuleInfo with no graph node yet, check (1) no
// same-name instance already registered, (2) every symbol import
// resolves in-set or in the registry, (3) no export conflicts with an
// already-loaded registry symbol. Failing any check marks the module
// Err (waking its waiters) instead of failing the whole commit.
func (g *Graph) spawnMissingTasks() {
	pendingInfos := g.set.PendingUnloaded()

	g.mu.Lock()
	for name, info := range pendingInfos {
		if _, exists := g.nodes[name]; exists {
			continue
		}

		if _, inRegistry := g.reg.Lookup(name); inRegistry {
			g.mu.Unlock()
			g.set.MarkErr(name)
			g.mu.Lock()
			continue
		}

		ok := true
		var deps []string
		for _, imp := range info.Export.SymbolImports {
			if ownerName, inSet := g.set.OwnerOf(imp.Name, imp.Namespace); inSet {
				producer, _ := g.set.Lookup(ownerName)
				if producer != nil && producer.Status == loadset.Err {
					g.log.Warn("dependency failed", telemetry.String("module", name), telemetry.String("culprit", ownerName))
					ok = false
					break
				}
				deps = append(deps, ownerName)
				continue
			}
			if _, inRegistry := g.reg.GetSymbolCompatible(imp.Name, imp.Namespace, imp.RequiredVersion); inRegistry {
				continue
			}
			ok = false
			break
		}
		if !ok {
			g.mu.Unlock()
			g.set.MarkErr(name)
			g.mu.Lock()
			continue
		}

		for _, ex := range info.Export.SymbolExports {
			if g.reg.HasSymbol(ex.Name, ex.Namespace) {
				ok = false
				break
			}
		}
		if !ok {
			g.mu.Unlock()
			g.set.MarkErr(name)
			g.mu.Lock()
			continue
		}

		g.nodes[name] = &node{name: name, deps: deps, status: pending}
	}
	g.mu.Unlock()

	g.mu.Lock()
	for name, nd := range g.nodes {
		if nd.status != pending {
			continue
		}
		if g.onCycle(name) {
			nd.status = failed
			g.mu.Unlock()
			g.set.MarkErr(name)
			g.mu.Lock()
			continue
		}
		nd.status = running
		g.enqueueCount++
		go g.runLoadOp(name)
	}
	g.mu.Unlock()
}

// runLoadOp is the per-module LoadOp of §4.E S1-S4, run on its own
// goroutine once spawnMissingTasks has determined it's ready to start
// (S0's dependency wait is satisfied by spawnMissingTasks only
// enqueuing nodes whose in-set producers are not Err; true readiness —
// waiting for an in-set dependency still Unloaded — is handled by
// blocking on that dependency's PollModuleStatus below).
func (g *Graph) runLoadOp(name string) {
	defer func() {
		g.mu.Lock()
		g.enqueueCount--
		done := g.enqueueCount == 0
		g.mu.Unlock()
		if done {
			g.notifyComplete()
		}
	}()

	info, ok := g.set.Lookup(name)
	if !ok {
		return
	}

	for _, imp := range info.Export.SymbolImports {
		depName, inSet := g.set.OwnerOf(imp.Name, imp.Namespace)
		if !inSet {
			continue // resolved via registry, not in-set
		}
		result, _ := g.set.PollModuleStatus(depName, nil)
		for result == loadset.Pending {
			w := taskexec.FutureFunc[struct{}](func(waker *taskexec.Waker) (struct{}, bool, error) {
				r, _ := g.set.PollModuleStatus(depName, waker)
				return struct{}{}, r != loadset.Pending, nil
			})
			taskexec.Drive[struct{}](w)
			result, _ = g.set.PollModuleStatus(depName, nil)
		}
		if depInfo, ok := g.set.Lookup(depName); ok && depInfo.Status == loadset.Err {
			g.log.Warn("dependency failed", telemetry.String("module", name), telemetry.String("culprit", depName))
			g.set.MarkErr(name)
			return
		}
	}

	inst, err := initop.Run(info.Export, "", g.reg)
	if err != nil {
		g.log.Warn("init failed", telemetry.String("module", name), telemetry.Err(err))
		g.set.MarkErr(name)
		return
	}

	if err := initop.StartInstanceOp(inst, info.Export); err != nil {
		g.log.Warn("start failed", telemetry.String("module", name), telemetry.Err(err))
		inst.UnrefStrong()
		g.set.MarkErr(name)
		return
	}

	if err := g.reg.AddInstance(inst); err != nil {
		inst.UnrefStrong()
		g.set.MarkErr(name)
		return
	}

	// S4: release the init-time strong ref now that the instance is
	// registered and reachable by name/symbol — otherwise it can never
	// reach strong_count == 0 and enqueueUnload would never drain it.
	inst.UnrefStrong()

	g.set.MarkLoaded(name, inst)
}

func (g *Graph) notifyComplete() {
	g.mu.Lock()
	w := g.waiter
	g.waiter = nil
	g.mu.Unlock()
	if w != nil {
		w.WakeAndDrop()
	}
}
