package unloadop_test

import (
	"testing"

	"github.com/nmxmxh/modhost/kernel/initop"
	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/nmxmxh/modhost/kernel/registry"
	"github.com/nmxmxh/modhost/kernel/taskexec"
	"github.com/nmxmxh/modhost/kernel/unloadop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunUnloadsQuiescentInstanceImmediately(t *testing.T) {
	reg := registry.New()
	export := &modcore.Export{Name: "mod.a", Version: modcore.Version{Major: 1}}
	inst, err := initop.Run(export, "/mods/a", reg)
	require.NoError(t, err)
	require.NoError(t, reg.AddInstance(inst))
	inst.UnrefStrong() // drop the init-time strong ref so it becomes unloadable

	_, err = taskexec.Drive(unloadop.Run(inst, reg))
	require.NoError(t, err)
	assert.True(t, inst.IsDetached())

	_, ok := reg.Lookup("mod.a")
	assert.False(t, ok)
}

func TestRunWaitsForDependentsToClear(t *testing.T) {
	reg := registry.New()
	depExport := &modcore.Export{Name: "mod.dep", Version: modcore.Version{Major: 1}}
	dep, err := initop.Run(depExport, "/mods/dep", reg)
	require.NoError(t, err)
	require.NoError(t, reg.AddInstance(dep))
	dep.UnrefStrong()

	mainExport := &modcore.Export{Name: "mod.main", Version: modcore.Version{Major: 1}}
	main, err := initop.Run(mainExport, "/mods/main", reg)
	require.NoError(t, err)
	require.NoError(t, reg.AddInstance(main))
	require.NoError(t, main.AddDependency(dep))

	done := make(chan struct{})
	go func() {
		_, _ = taskexec.Drive(unloadop.Run(dep, reg))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("unload should not complete while a dependent remains")
	default:
	}

	require.NoError(t, main.RemoveDependency(dep))
	<-done
	assert.True(t, dep.IsDetached())
}
