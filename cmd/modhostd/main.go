// Command modhostd is a small demo daemon that boots the task executor,
// stages a handful of modules into a loading set, commits them, and
// exercises a parameter default's wire encoding, an imported-symbol
// call and an unload — the same "construct
// a packet, marshal it, run it, report the result" shape as the
// teacher's cmd/inos-node demo, generalized from a one-shot libp2p
// packet exchange into a module-host boot sequence.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/modhost/kernel/instance"
	"github.com/nmxmxh/modhost/kernel/loadgraph"
	"github.com/nmxmxh/modhost/kernel/loadset"
	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/nmxmxh/modhost/kernel/registry"
	"github.com/nmxmxh/modhost/kernel/taskexec"
	"github.com/nmxmxh/modhost/kernel/telemetry"
	"github.com/nmxmxh/modhost/kernel/unloadop"
	"github.com/nmxmxh/modhost/kernel/wasmmod"
)

func main() {
	workerModules := flag.Int("workers", 1, "number of standalone demo worker modules to load alongside the dependency chain")
	logLevel := flag.String("log-level", "info", "one of debug, info, warn, error")
	jsonLogs := flag.Bool("json-logs", false, "also mirror lifecycle events through a zap JSON sink")
	flag.Parse()

	log := telemetry.NewLogger(telemetry.LoggerConfig{
		Level:      parseLevel(*logLevel),
		Component:  "modhostd",
		Colorize:   true,
		TimeFormat: "15:04:05.000",
	})
	telemetry.SetGlobalLogger(log)

	var subs []telemetry.Subscriber
	if *jsonLogs {
		zl, err := zap.NewProduction()
		if err != nil {
			log.Warn("zap sink unavailable", telemetry.Err(err))
		} else {
			subs = append(subs, telemetry.NewZapSink(zl))
		}
	}

	log.Info("modhostd starting", telemetry.Int("worker_modules", *workerModules))

	exec := taskexec.NewExecutor(100, 20)
	reg := registry.New()
	set := loadset.New(256, 0.01)

	helperExport := &modcore.Export{
		Name:    "mod.helper",
		Version: modcore.Version{Major: 1},
		Parameters: []modcore.ParamDecl{
			{Name: "greeting_count", Type: modcore.U32, Default: 0, ReadGroup: modcore.Public, WriteGroup: modcore.Dependency},
		},
		SymbolExports: []modcore.SymbolExportDecl{
			{Name: "greet", Namespace: "", Version: modcore.Version{Major: 1}, Linkage: modcore.Static, Static: func() string { return "hello from mod.helper" }},
		},
	}
	if err := set.AddModuleInner(helperExport, nil); err != nil {
		fail(log, "stage mod.helper", err)
	}

	mainExport := &modcore.Export{
		Name:    "mod.main",
		Version: modcore.Version{Major: 1},
		SymbolImports: []modcore.SymbolImport{
			{Name: "greet", Namespace: "", RequiredVersion: modcore.Version{Major: 1}},
		},
	}
	if err := set.AddModuleInner(mainExport, nil); err != nil {
		fail(log, "stage mod.main", err)
	}

	for n := 0; n < *workerModules; n++ {
		workerExport := &modcore.Export{
			Name:    fmt.Sprintf("mod.worker.%d", n),
			Version: modcore.Version{Major: 1},
		}
		if err := set.AddModuleInner(workerExport, nil); err != nil {
			fail(log, "stage worker module", err)
		}
	}

	wasmExport := &modcore.Export{
		Name:    "mod.wasm-demo",
		Version: modcore.Version{Major: 1},
		SymbolExports: []modcore.SymbolExportDecl{
			wasmmod.Export("run", "", modcore.Version{Major: 1}, []byte("(wasm binary placeholder)")),
		},
	}
	if err := set.AddModuleInner(wasmExport, nil); err != nil {
		fail(log, "stage mod.wasm-demo", err)
	}

	blockCtx := &taskexec.BlockOnContext[struct{}]{}
	if _, err := taskexec.BlockOn(exec, blockCtx, loadgraph.Commit(set, reg)); err != nil {
		fail(log, "commit loading set", err)
	}

	for _, name := range []string{"mod.helper", "mod.main", "mod.wasm-demo"} {
		info, ok := set.Lookup(name)
		if !ok {
			continue
		}
		switch info.Status {
		case loadset.Loaded:
			log.Info("module loaded", telemetry.String("module", name))
		case loadset.Err:
			log.Warn("module failed to load", telemetry.String("module", name))
		}
	}

	demoParameterWire(log, helperExport.Parameters[0])
	demoEventWire(subs)

	if raw, ok := reg.Lookup("mod.main"); ok {
		main := raw.(*instance.Instance)
		if sym, err := main.LoadSymbol("greet", "", modcore.Version{Major: 1}); err == nil {
			if fn, ok := sym.Value.(func() string); ok {
				log.Info("imported symbol call", telemetry.String("result", fn()))
			}
		}

		if err := unloadWhenQuiescent(main, reg); err != nil {
			log.Warn("unload mod.main", telemetry.Err(err))
		} else {
			log.Info("module unloaded", telemetry.String("module", "mod.main"))
		}
	}

	exec.Shutdown()
	log.Info("modhostd exiting cleanly")
}

// demoParameterWire shows a declared parameter default crossing into
// its wire representation, the path a remote loader would use instead
// of constructing the Export value in-process.
func demoParameterWire(log *telemetry.Logger, decl modcore.ParamDecl) {
	wire := decl.DefaultProto()
	log.Debug("parameter default wire-encoded", telemetry.String("name", decl.Name), telemetry.Uint64("value", wire.GetValue()))
}

// demoEventWire delivers one LogMessage event to every registered
// subscriber, wire-encoding its timestamp the way a remote sink would
// before transmitting it.
func demoEventWire(subs []telemetry.Subscriber) {
	if len(subs) == 0 {
		return
	}
	ev := &telemetry.Event{Tag: telemetry.LogMessage, Time: time.Now(), Message: "modhostd boot sequence complete"}
	_ = telemetry.EventTimestamp(ev)
	telemetry.Deliver(subs, ev)
}

// unloadWhenQuiescent drives the unload op to completion; the
// init-time strong reference is already released by the load pipeline
// once the instance is registered, so only dependents (if any) gate
// this.
func unloadWhenQuiescent(inst *instance.Instance, reg *registry.Registry) error {
	_, err := taskexec.Drive(unloadop.Run(inst, reg))
	return err
}

func parseLevel(s string) telemetry.LogLevel {
	switch s {
	case "debug":
		return telemetry.DEBUG
	case "warn":
		return telemetry.WARN
	case "error":
		return telemetry.ERROR
	default:
		return telemetry.INFO
	}
}

func fail(log *telemetry.Logger, op string, err error) {
	log.Error(op+" failed", telemetry.Err(err))
	os.Exit(1)
}
