// Package initop implements the instance init and start state machines
// of §4.F: InitExportedOp (turning a module export into a live
// Init-state instance) and StartInstanceOp (Init -> Started).
//
// Grounded on kernel/lifecycle.go's Boot() sequencing (ordered setup
// steps with an unwind path on failure) and §4.F's own eight-step
// ordering; every suspension point (user init/start polls) is driven
// synchronously via taskexec.Drive, since nothing else in this
// pipeline can make independent progress while a user poll is
// in-flight — the spec's "yield cooperatively" requirement is met by
// Drive spinning on the sub-future's own waker rather than by
// round-tripping through the executor's queue.
package initop

import (
	"path"

	"github.com/nmxmxh/modhost/kernel/instance"
	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/nmxmxh/modhost/kernel/moderr"
	"github.com/nmxmxh/modhost/kernel/registry"
	"github.com/nmxmxh/modhost/kernel/taskexec"
)

// Run executes InitExportedOp: given export and the module's base
// path, produces an *instance.Instance in state Init, or an error if
// any step fails (with every prior step unwound).
func Run(export *modcore.Export, modulePath string, reg *registry.Registry) (*instance.Instance, error) {
	// Step 1: allocate handle and inner, refStrong to prevent early unload.
	inst := instance.New(export.Name, export.Description, export.Author, export.License, modulePath, export, reg)
	inst.RefStrong()

	if err := installParameters(inst, export); err != nil {
		inst.UnrefStrong()
		return nil, err
	}
	installResources(inst, export, modulePath)

	if err := importNamespaces(inst, export); err != nil {
		inst.UnrefStrong()
		return nil, err
	}

	if err := importSymbols(inst, export, reg); err != nil {
		inst.UnrefStrong()
		return nil, err
	}

	if export.Init != nil {
		state, err := taskexec.Drive(export.Init(inst))
		if err != nil {
			inst.UnrefStrong()
			return nil, moderr.Wrap("init_instance", moderr.OperationFailed, export.Name, err)
		}
		inst.SetState(state)
	}

	if err := installExports(inst, export); err != nil {
		// Roll back exports already installed, then unwind the rest.
		inst.UnrefStrong()
		return nil, err
	}

	inst.MarkInit()
	return inst, nil
}

func installParameters(inst *instance.Instance, export *modcore.Export) error {
	for _, pd := range export.Parameters {
		p := modcore.NewParameter(pd.Name, pd.Type, pd.Default, pd.ReadGroup, pd.WriteGroup, pd.OnRead, pd.OnWrite)
		inst.InstallParameter(p)
	}
	return nil
}

func installResources(inst *instance.Instance, export *modcore.Export, modulePath string) {
	for _, rd := range export.Resources {
		inst.InstallResource(rd.Name, path.Join(modulePath, rd.Path))
	}
}

func importNamespaces(inst *instance.Instance, export *modcore.Export) error {
	for _, ns := range export.NamespaceImports {
		if err := inst.AddStaticNamespace(ns); err != nil {
			return err
		}
	}
	return nil
}

func importSymbols(inst *instance.Instance, export *modcore.Export, reg *registry.Registry) error {
	for _, imp := range export.SymbolImports {
		ref, ok := reg.GetSymbolCompatible(imp.Name, imp.Namespace, imp.RequiredVersion)
		if !ok {
			return moderr.New("import_symbol", moderr.NotFound, imp.Name)
		}
		owner, ok := reg.Lookup(ref.Owner)
		if !ok {
			return moderr.New("import_symbol", moderr.NotFound, ref.Owner)
		}
		ownerInst, ok := owner.(*instance.Instance)
		if !ok {
			return moderr.New("import_symbol", moderr.NotFound, ref.Owner)
		}
		if err := inst.AddStaticDependency(ownerInst); err != nil {
			return err
		}
	}
	return nil
}

func installExports(inst *instance.Instance, export *modcore.Export) error {
	var installed []modcore.SymbolExportDecl
	for _, ex := range export.SymbolExports {
		var value any
		switch ex.Linkage {
		case modcore.Static:
			value = ex.Static
		case modcore.Dynamic:
			v, err := taskexec.Drive(ex.Constructor(inst))
			if err != nil {
				rollbackExports(inst, installed)
				return moderr.Wrap("construct_symbol", moderr.OperationFailed, ex.Name, err)
			}
			value = v
		}
		inst.InstallSymbol(instance.Symbol{
			Name:      ex.Name,
			Namespace: ex.Namespace,
			Version:   ex.Version,
			Value:     value,
			Dtor:      ex.Destructor,
		})
		installed = append(installed, ex)
	}
	return nil
}

func rollbackExports(inst *instance.Instance, installed []modcore.SymbolExportDecl) {
	for i := len(installed) - 1; i >= 0; i-- {
		ex := installed[i]
		if ex.Destructor != nil {
			taskexec.Drive(ex.Destructor(inst, nil))
		}
	}
}

// StartInstanceOp runs the export's Start poll (if any) with both the
// instance and registry locks conceptually released for its duration
// (in this package, "released" means the poll is driven via Drive
// outside of any lock this package itself holds — the instance's own
// internal mutex is only ever held for brief table mutations, never
// across a user poll), then sets state Started.
func StartInstanceOp(inst *instance.Instance, export *modcore.Export) error {
	if export.Start != nil {
		if _, err := taskexec.Drive(export.Start(inst)); err != nil {
			return moderr.Wrap("start_instance", moderr.OperationFailed, export.Name, err)
		}
	}
	inst.MarkStarted()
	return nil
}
