package loadgraph_test

import (
	"testing"
	"time"

	"github.com/nmxmxh/modhost/kernel/loadgraph"
	"github.com/nmxmxh/modhost/kernel/loadset"
	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/nmxmxh/modhost/kernel/registry"
	"github.com/nmxmxh/modhost/kernel/taskexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitLoadsIndependentModule(t *testing.T) {
	reg := registry.New()
	set := loadset.New(100, 0.01)

	require.NoError(t, set.AddModuleInner(&modcore.Export{
		Name:    "mod.standalone",
		Version: modcore.Version{Major: 1},
	}, nil))

	_, err := taskexec.Drive(loadgraph.Commit(set, reg))
	require.NoError(t, err)

	_, ok := reg.Lookup("mod.standalone")
	assert.True(t, ok)
}

func TestCommitLoadsDependencyBeforeDependent(t *testing.T) {
	reg := registry.New()
	set := loadset.New(100, 0.01)

	require.NoError(t, set.AddModuleInner(&modcore.Export{
		Name:    "mod.b",
		Version: modcore.Version{Major: 1},
		SymbolExports: []modcore.SymbolExportDecl{
			{Name: "helper", Namespace: "", Version: modcore.Version{Major: 1}, Linkage: modcore.Static, Static: "helper-fn"},
		},
	}, nil))
	require.NoError(t, set.AddModuleInner(&modcore.Export{
		Name:    "mod.a",
		Version: modcore.Version{Major: 1},
		SymbolImports: []modcore.SymbolImport{
			{Name: "helper", Namespace: "", RequiredVersion: modcore.Version{Major: 1}},
		},
	}, nil))

	done := make(chan error, 1)
	go func() {
		_, err := taskexec.Drive(loadgraph.Commit(set, reg))
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("commit did not complete")
	}

	_, okA := reg.Lookup("mod.a")
	_, okB := reg.Lookup("mod.b")
	assert.True(t, okA)
	assert.True(t, okB)
}

func TestCommitMarksMissingDependencyErr(t *testing.T) {
	reg := registry.New()
	set := loadset.New(100, 0.01)

	require.NoError(t, set.AddModuleInner(&modcore.Export{
		Name:    "mod.needs-missing",
		Version: modcore.Version{Major: 1},
		SymbolImports: []modcore.SymbolImport{
			{Name: "nonexistent", Namespace: "", RequiredVersion: modcore.Version{Major: 1}},
		},
	}, nil))

	_, err := taskexec.Drive(loadgraph.Commit(set, reg))
	require.NoError(t, err) // the commit itself succeeds; the individual module does not

	info, ok := set.Lookup("mod.needs-missing")
	require.True(t, ok)
	assert.Equal(t, loadset.Err, info.Status)
}
