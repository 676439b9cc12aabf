// Package wasmmod adapts a WebAssembly binary into a dynamic symbol
// export (§4.F step 7's "Dynamic: poll constructor(...) to completion"):
// the constructor instantiates the module and the produced *wasmer.Instance
// becomes the exported value, closed again by the paired destructor on
// detach.
//
// Grounded on wasm/executor.go's Execute (engine/store/module/instance
// setup via github.com/wasmerio/wasmer-go), generalized from a
// one-shot "run main and return bytes" helper into a long-lived
// exported symbol whose functions other instances can call repeatedly
// via LoadSymbol.
package wasmmod

import (
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/nmxmxh/modhost/kernel/moderr"
	"github.com/nmxmxh/modhost/kernel/taskexec"
)

// Export builds a Dynamic SymbolExportDecl that instantiates wasmBytes
// at construction time and exposes the resulting *wasmer.Instance as
// its value, so dependents can resolve exported WASM functions by
// calling Call on it (see Call below).
func Export(name, namespace string, version modcore.Version, wasmBytes []byte) modcore.SymbolExportDecl {
	return modcore.SymbolExportDecl{
		Name:      name,
		Namespace: namespace,
		Version:   version,
		Linkage:   modcore.Dynamic,
		Constructor: func(self any) taskexec.Future[any] {
			return taskexec.FutureFunc[any](func(w *taskexec.Waker) (any, bool, error) {
				engine := wasmer.NewEngine()
				store := wasmer.NewStore(engine)
				module, err := wasmer.NewModule(store, wasmBytes)
				if err != nil {
					return nil, true, moderr.Wrap("wasmmod_construct", moderr.OperationFailed, name, err)
				}
				instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
				if err != nil {
					return nil, true, moderr.Wrap("wasmmod_construct", moderr.OperationFailed, name, err)
				}
				return instance, true, nil
			})
		},
		Destructor: func(self any, value any) taskexec.Future[struct{}] {
			return taskexec.FutureFunc[struct{}](func(w *taskexec.Waker) (struct{}, bool, error) {
				if inst, ok := value.(*wasmer.Instance); ok {
					inst.Close()
				}
				return struct{}{}, true, nil
			})
		},
	}
}

// Call invokes exportName on a *wasmer.Instance produced by Export,
// the equivalent of wasm/executor.go's single "main" invocation
// generalized to any exported function name.
func Call(value any, exportName string, args ...interface{}) (interface{}, error) {
	inst, ok := value.(*wasmer.Instance)
	if !ok {
		return nil, moderr.New("wasmmod_call", moderr.InvalidExport, exportName)
	}
	fn, err := inst.Exports.GetFunction(exportName)
	if err != nil {
		return nil, moderr.Wrap("wasmmod_call", moderr.NotFound, exportName, err)
	}
	return fn(args...)
}
