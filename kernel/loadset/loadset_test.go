package loadset_test

import (
	"testing"

	"github.com/nmxmxh/modhost/kernel/loadset"
	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/nmxmxh/modhost/kernel/moderr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportNamed(name string, symbols ...modcore.SymbolExportDecl) *modcore.Export {
	return &modcore.Export{Name: name, Version: modcore.Version{Major: 1}, SymbolExports: symbols}
}

func TestAddModuleInnerRejectsDuplicateName(t *testing.T) {
	s := loadset.New(100, 0.01)
	require.NoError(t, s.AddModuleInner(exportNamed("mod.a"), nil))
	assert.True(t, moderr.Is(s.AddModuleInner(exportNamed("mod.a"), nil), moderr.Duplicate))
}

func TestAddModuleInnerRejectsDuplicateSymbolAcrossModules(t *testing.T) {
	s := loadset.New(100, 0.01)
	require.NoError(t, s.AddModuleInner(exportNamed("mod.a", modcore.SymbolExportDecl{Name: "draw", Namespace: "gfx"}), nil))
	err := s.AddModuleInner(exportNamed("mod.b", modcore.SymbolExportDecl{Name: "draw", Namespace: "gfx"}), nil)
	assert.True(t, moderr.Is(err, moderr.Duplicate))
}

func TestAddModuleInnerRejectsInvalidExport(t *testing.T) {
	s := loadset.New(100, 0.01)
	err := s.AddModuleInner(exportNamed("__reserved"), nil)
	assert.True(t, moderr.Is(err, moderr.InvalidExport))
}

type fakeHandle struct {
	exports []*modcore.Export
}

func (h *fakeHandle) IterateExports(visit func(export *modcore.Export) bool) {
	for _, e := range h.exports {
		if !visit(e) {
			return
		}
	}
}

func TestAddModulesFromLocalRollsBackWholeBatchOnError(t *testing.T) {
	s := loadset.New(100, 0.01)
	h := &fakeHandle{exports: []*modcore.Export{
		exportNamed("mod.a"),
		exportNamed("mod.a"), // duplicate name triggers failure
		exportNamed("mod.c"),
	}}

	err := s.AddModulesFromLocal(h, nil, nil)
	assert.Error(t, err)

	_, ok := s.Lookup("mod.a")
	assert.False(t, ok, "mod.a should have been rolled back")
}

func TestPollModuleStatusReportsPendingAndNotFound(t *testing.T) {
	s := loadset.New(100, 0.01)
	require.NoError(t, s.AddModuleInner(exportNamed("mod.a"), nil))

	result, info := s.PollModuleStatus("mod.a", nil)
	assert.Equal(t, loadset.Pending, result)
	assert.Nil(t, info)

	result, info = s.PollModuleStatus("missing", nil)
	assert.Equal(t, loadset.NotFound, result)
	assert.Nil(t, info)
}

func TestMarkLoadedResolvesPollModuleStatus(t *testing.T) {
	s := loadset.New(100, 0.01)
	require.NoError(t, s.AddModuleInner(exportNamed("mod.a"), nil))
	s.MarkLoaded("mod.a", nil)

	result, info := s.PollModuleStatus("mod.a", nil)
	assert.Equal(t, loadset.Resolved, result)
	require.NotNil(t, info)
	assert.Equal(t, loadset.Loaded, info.Status)
}
