package modcore

import (
	"strings"

	"github.com/nmxmxh/modhost/kernel/moderr"
)

// ContextVersion is the running host's context version; an export is
// rejected unless its declared Version is compatible with it, per §7's
// "context version of the export is not compatible".
var ContextVersion = Version{Major: 1, Minor: 0, Patch: 0}

// ValidateExport applies every rule named in the "Export validation"
// paragraph of §4.D, returning the first violation found as an
// InvalidExport error.
func ValidateExport(e *Export) error {
	if strings.HasPrefix(e.Name, "__") {
		return moderr.New("validate_export", moderr.InvalidExport, e.Name)
	}
	if !e.Version.Satisfies(ContextVersion) {
		return moderr.New("validate_export", moderr.InvalidExport, e.Name)
	}

	seenNamespaces := make(map[string]struct{}, len(e.NamespaceImports))
	for _, ns := range e.NamespaceImports {
		if ns == "" {
			return moderr.New("validate_export", moderr.InvalidExport, e.Name)
		}
		if _, dup := seenNamespaces[ns]; dup {
			return moderr.New("validate_export", moderr.InvalidExport, e.Name)
		}
		seenNamespaces[ns] = struct{}{}
	}

	for _, imp := range e.SymbolImports {
		if imp.Namespace == "" {
			continue // global namespace always allowed
		}
		if _, ok := seenNamespaces[imp.Namespace]; !ok {
			return moderr.New("validate_export", moderr.InvalidExport, e.Name)
		}
	}

	exportedNames := make(map[string]struct{}, len(e.SymbolExports))
	for _, ex := range e.SymbolExports {
		if strings.HasPrefix(ex.Name, "__") {
			return moderr.New("validate_export", moderr.InvalidExport, e.Name)
		}
		key := ex.Namespace + "\x00" + ex.Name
		if _, dup := exportedNames[key]; dup {
			return moderr.New("validate_export", moderr.InvalidExport, e.Name)
		}
		exportedNames[key] = struct{}{}
		if ex.Linkage != Static && ex.Linkage != Dynamic {
			return moderr.New("validate_export", moderr.InvalidExport, e.Name)
		}
	}

	for _, imp := range e.SymbolImports {
		key := imp.Namespace + "\x00" + imp.Name
		if _, clash := exportedNames[key]; clash {
			return moderr.New("validate_export", moderr.InvalidExport, e.Name)
		}
	}

	return nil
}
