package modcore

import "github.com/nmxmxh/modhost/kernel/taskexec"

// SymbolLinkage distinguishes a statically-provided export pointer from
// one produced by a dynamic constructor poll (§4.F step 7).
type SymbolLinkage int

const (
	Static SymbolLinkage = iota
	Dynamic
)

// Modifier tags an export's optional event polls and reserved metadata
// slots. Export holds its polls as single fields (Init, Deinit, Start,
// Stop), so it carries no modifier list and ValidateExport has no
// modifier tags to check; `ModifierDependencies` is reserved and is
// never emitted by any component.
type Modifier int

const (
	ModifierInstanceState Modifier = iota
	ModifierStartEvent
	ModifierStopEvent
	ModifierDestructor
	ModifierConstructor
	ModifierDependencies // reserved, tag 5
)

// ParamDecl is one declared parameter of a module export, materialized
// into a live *Parameter by InitExportedOp step 2.
type ParamDecl struct {
	Name       string
	Type       ParamType
	Default    uint64
	ReadGroup  AccessGroup
	WriteGroup AccessGroup
	OnRead     ReadHook
	OnWrite    WriteHook
}

// ResourceDecl is a declared resource path, joined with the instance's
// module path at init time (§4.F step 3).
type ResourceDecl struct {
	Name string
	Path string
}

// SymbolImport names a required symbol and the minimum version the
// importer needs; namespace must be either the global namespace ("")
// or a listed namespace import (checked by ValidateExport).
type SymbolImport struct {
	Name           string
	Namespace      string
	RequiredVersion Version
}

// SymbolExportDecl declares one symbol this module provides, either as
// a ready pointer (Static) or via a Constructor poll run at init time
// (Dynamic, per §4.F step 7).
type SymbolExportDecl struct {
	Name      string
	Namespace string
	Version   Version
	Linkage   SymbolLinkage

	// Static provides the value directly when Linkage == Static.
	Static any

	// Constructor builds the exported value when Linkage == Dynamic,
	// given the opaque owning instance. It is driven synchronously via
	// taskexec.Drive, matching "poll constructor(...) to completion" in
	// §4.F step 7.
	Constructor func(instance any) taskexec.Future[any]

	// Destructor, if set, is run (via taskexec.Drive) in reverse
	// registration order during detach or init rollback.
	Destructor func(instance any, value any) taskexec.Future[struct{}]
}

// EventPoll is a user-supplied init/deinit/start/stop poll. init
// produces an opaque state pointer to be stored on the instance; the
// others carry no payload.
type EventPoll func(instance any) taskexec.Future[any]
type VoidEventPoll func(instance any) taskexec.Future[struct{}]

// Export is the immutable descriptor supplied by a module provider
// (§3 "Module export"). Once constructed it is never mutated; every
// instance created from it shares the same *Export.
//
// Grounded on the teacher's RegisteredModule/readEnhancedEntry in
// kernel/threads/registry/loader.go for the shape (name, dependency
// list, capability/resource declarations, version), generalized from
// that file's SAB-serialized binary layout into plain Go struct fields
// since this package has no wire format to parse — module exports
// arrive as Go values built by the module's own package init, not as
// bytes scanned out of a binary section.
type Export struct {
	Name        string
	Description string
	Author      string
	License     string
	Version     Version

	Parameters       []ParamDecl
	Resources        []ResourceDecl
	NamespaceImports []string
	SymbolImports    []SymbolImport
	SymbolExports    []SymbolExportDecl

	Init EventPoll
	// Deinit, Start, Stop carry no payload in or out besides success/error.
	Deinit VoidEventPoll
	Start  VoidEventPoll
	Stop   VoidEventPoll
}
