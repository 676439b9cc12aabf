package instance_test

import (
	"testing"

	"github.com/nmxmxh/modhost/kernel/instance"
	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/nmxmxh/modhost/kernel/moderr"
	"github.com/nmxmxh/modhost/kernel/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstance(reg *registry.Registry, name string) *instance.Instance {
	return instance.New(name, "", "", "", "/mods/"+name, &modcore.Export{Name: name}, reg)
}

func TestLifecycleTransitionsInOrder(t *testing.T) {
	reg := registry.New()
	i := newTestInstance(reg, "mod.a")
	assert.Equal(t, instance.Uninit, i.State())

	i.MarkInit()
	assert.Equal(t, instance.Init, i.State())

	i.MarkStarted()
	assert.Equal(t, instance.Started, i.State())

	require.NoError(t, i.Stop())
	assert.Equal(t, instance.Init, i.State())
}

func TestAddNamespaceRejectsGlobalAndDuplicate(t *testing.T) {
	reg := registry.New()
	i := newTestInstance(reg, "mod.a")

	assert.True(t, moderr.Is(i.AddNamespace(""), moderr.NotPermitted))
	require.NoError(t, i.AddNamespace("gfx"))
	assert.True(t, moderr.Is(i.AddNamespace("gfx"), moderr.Duplicate))

	present, _ := i.QueryNamespace("gfx")
	assert.True(t, present)
}

func TestRemoveNamespaceDropsDynamicNamespace(t *testing.T) {
	reg := registry.New()
	i := newTestInstance(reg, "mod.a")
	require.NoError(t, i.AddNamespace("gfx"))
	require.NoError(t, i.RemoveNamespace("gfx"))

	present, _ := i.QueryNamespace("gfx")
	assert.False(t, present)
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	reg := registry.New()
	a := newTestInstance(reg, "mod.a")
	b := newTestInstance(reg, "mod.b")
	require.NoError(t, reg.AddInstance(a))
	require.NoError(t, reg.AddInstance(b))

	require.NoError(t, a.AddDependency(b))
	assert.True(t, moderr.Is(b.AddDependency(a), moderr.CyclicDependency))
}

func TestRemoveDependencyRejectsUnrecordedEdge(t *testing.T) {
	reg := registry.New()
	a := newTestInstance(reg, "mod.a")
	b := newTestInstance(reg, "mod.b")
	require.NoError(t, reg.AddInstance(a))
	require.NoError(t, reg.AddInstance(b))

	assert.True(t, moderr.Is(a.RemoveDependency(b), moderr.NotADependency))
}

func TestParameterAccessRequiresDependency(t *testing.T) {
	reg := registry.New()
	a := newTestInstance(reg, "mod.a")
	b := newTestInstance(reg, "mod.b")
	require.NoError(t, reg.AddInstance(a))
	require.NoError(t, reg.AddInstance(b))

	_, err := a.ReadParameter(modcore.U32, "mod.b", "gain")
	assert.True(t, moderr.Is(err, moderr.NotADependency))

	require.NoError(t, a.AddDependency(b))
	_, err = a.ReadParameter(modcore.U32, "mod.b", "gain")
	assert.True(t, moderr.Is(err, moderr.NotFound)) // dependency recorded, but b has no such parameter
}

func TestDetachRejectedWhileDependentsRemain(t *testing.T) {
	reg := registry.New()
	a := newTestInstance(reg, "mod.a")
	b := newTestInstance(reg, "mod.b")
	require.NoError(t, reg.AddInstance(a))
	require.NoError(t, reg.AddInstance(b))
	require.NoError(t, a.AddDependency(b))

	assert.True(t, moderr.Is(b.Detach(), moderr.NotPermitted))

	require.NoError(t, a.RemoveDependency(b))
	assert.NoError(t, b.Detach())
	assert.True(t, b.IsDetached())
}

func TestDetachRejectedWhileStarted(t *testing.T) {
	reg := registry.New()
	i := newTestInstance(reg, "mod.a")
	i.MarkInit()
	i.MarkStarted()
	assert.True(t, moderr.Is(i.Detach(), moderr.NotPermitted))
}

func TestEnqueueUnloadIsIdempotent(t *testing.T) {
	reg := registry.New()
	i := newTestInstance(reg, "mod.a")
	assert.True(t, i.EnqueueUnload(nil))  // no strong/dependents refs => immediately unloadable
	assert.False(t, i.EnqueueUnload(nil)) // already requested, second call is a no-op
}
