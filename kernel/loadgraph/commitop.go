package loadgraph

import (
	"github.com/nmxmxh/modhost/kernel/loadset"
	"github.com/nmxmxh/modhost/kernel/registry"
	"github.com/nmxmxh/modhost/kernel/taskexec"
)

// Commit builds the CommitOp future of §4.E: S0 acquires the
// registry's global loading-set serial lock and constructs a Graph
// over set; S1 spawns LoadOp goroutines for every ready module and
// yields until the graph's enqueue_count reaches zero; Unwind detaches
// the graph from the set and restores the registry to Idle, waking one
// queued commit waiter if any.
//
// Exposed as a free function (rather than a LoadingSet method) so
// loadset stays a leaf package the load graph depends on, instead of
// the two importing each other.
func Commit(set *loadset.LoadingSet, reg *registry.Registry) taskexec.Future[struct{}] {
	var g *Graph
	var handoff <-chan struct{}

	return taskexec.FutureFunc[struct{}](func(w *taskexec.Waker) (struct{}, bool, error) {
		if g == nil {
			if handoff == nil {
				acquired, wait := reg.AcquireLoadingSet()
				if !acquired {
					handoff = wait
					go func() {
						<-wait
						w.Wake()
					}()
					return struct{}{}, false, nil
				}
			} else {
				select {
				case <-handoff:
					// ReleaseLoadingSet handed the LoadingSet state to this commit.
				default:
					return struct{}{}, false, nil
				}
			}
			g = newGraph(set, reg)
			set.ActiveLoadGraph = g
			set.ActiveCommits++
			g.spawnMissingTasks()
		}

		g.mu.Lock()
		if g.enqueueCount == 0 {
			g.mu.Unlock()
			set.ActiveLoadGraph = nil
			set.ActiveCommits--
			reg.ReleaseLoadingSet()
			return struct{}{}, true, nil
		}
		if g.waiter != nil {
			g.waiter.Drop()
		}
		g.waiter = w.Clone()
		g.mu.Unlock()
		return struct{}{}, false, nil
	})
}
