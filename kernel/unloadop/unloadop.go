// Package unloadop implements EnqueueUnloadOp of §4.G: the async state
// machine that waits for an instance to become quiescent
// (strong_count == 0 and dependents_count == 0) and then tears it
// down.
//
// Grounded on kernel/lifecycle.go's Shutdown (cancel(); wg.Wait())
// for the "wait, then teardown in a fixed order" shape, generalized
// from a process-wide shutdown to a single instance's unload.
package unloadop

import (
	"github.com/nmxmxh/modhost/kernel/instance"
	"github.com/nmxmxh/modhost/kernel/registry"
	"github.com/nmxmxh/modhost/kernel/taskexec"
)

// Run builds the EnqueueUnloadOp future for inst: S0 installs a waker
// and waits until the instance can be unloaded (a no-op if it already
// is, or is already detached); S1 removes it from the registry, runs
// Stop (Started -> Init) if needed, then Detach.
func Run(inst *instance.Instance, reg *registry.Registry) taskexec.Future[struct{}] {
	requested := false

	return taskexec.FutureFunc[struct{}](func(w *taskexec.Waker) (struct{}, bool, error) {
		if inst.IsDetached() {
			return struct{}{}, true, nil
		}

		if !requested {
			requested = true
			if done := inst.EnqueueUnload(w); !done {
				return struct{}{}, false, nil
			}
		}

		if !inst.CanUnload() {
			return struct{}{}, false, nil
		}

		if err := reg.RemoveInstance(inst); err != nil {
			return struct{}{}, true, err
		}
		if err := inst.Stop(); err != nil {
			return struct{}{}, true, err
		}
		if err := inst.Detach(); err != nil {
			return struct{}{}, true, err
		}
		return struct{}{}, true, nil
	})
}
