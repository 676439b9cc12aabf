package modcore

import (
	"sync/atomic"

	"github.com/nmxmxh/modhost/kernel/moderr"
)

// ParamType enumerates the eight fixed integer types a Parameter may
// hold. The type is fixed for the lifetime of the instance (invariant
// 7): once a Parameter is constructed its Type never changes.
type ParamType int

const (
	U8 ParamType = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
)

// AccessGroup orders from most to least open, per the resolved Open
// Question in SPEC_FULL.md: numerically smaller is more open.
//
//	Public(0) < Dependency(1) < Private(2)
type AccessGroup int

const (
	Public AccessGroup = iota
	Dependency
	Private
)

// ReadHook/WriteHook let a module observe or veto parameter access.
// Returning a non-nil error from a WriteHook aborts the write.
type ReadHook func(current uint64) uint64
type WriteHook func(current, proposed uint64) (uint64, error)

// Parameter is an atomically-readable typed cell with independent
// read/write access groups and optional hooks, as specified in §3.
type Parameter struct {
	Name       string
	Type       ParamType
	value      atomic.Uint64
	ReadGroup  AccessGroup
	WriteGroup AccessGroup
	onRead     ReadHook
	onWrite    WriteHook
}

// NewParameter constructs a Parameter with the given default value
// (already narrowed to Type's width by the caller; reads/writes are
// otherwise untyped 64-bit atomics internally, matching the teacher's
// single-vtable-width "type tag + pointer" parameter layout in §6).
func NewParameter(name string, typ ParamType, def uint64, readGroup, writeGroup AccessGroup, onRead ReadHook, onWrite WriteHook) *Parameter {
	p := &Parameter{
		Name:       name,
		Type:       typ,
		ReadGroup:  readGroup,
		WriteGroup: writeGroup,
		onRead:     onRead,
		onWrite:    onWrite,
	}
	p.value.Store(def)
	return p
}

// Read returns the current value, applying the caller's access group
// and the requested type tag. A mismatched type is rejected with
// InvalidParameterType; access above the read group is NotPermitted.
func (p *Parameter) Read(typ ParamType, caller AccessGroup) (uint64, error) {
	if typ != p.Type {
		return 0, moderr.New("read_parameter", moderr.InvalidParameterType, p.Name)
	}
	if caller < p.ReadGroup {
		return 0, moderr.New("read_parameter", moderr.NotPermitted, p.Name)
	}
	v := p.value.Load()
	if p.onRead != nil {
		v = p.onRead(v)
	}
	return v, nil
}

// Write stores a new value, applying the caller's access group, the
// type tag, and the optional write hook (which may transform the value
// or veto the write outright).
func (p *Parameter) Write(typ ParamType, caller AccessGroup, v uint64) error {
	if typ != p.Type {
		return moderr.New("write_parameter", moderr.InvalidParameterType, p.Name)
	}
	if caller < p.WriteGroup {
		return moderr.New("write_parameter", moderr.NotPermitted, p.Name)
	}
	if p.onWrite != nil {
		current := p.value.Load()
		next, err := p.onWrite(current, v)
		if err != nil {
			return moderr.Wrap("write_parameter", moderr.OperationFailed, p.Name, err)
		}
		v = next
	}
	p.value.Store(v)
	return nil
}

// ParamWidth returns the bit width of a ParamType. ValidateExport does
// not call it: declared defaults are not checked against the width.
func ParamWidth(t ParamType) int {
	switch t {
	case U8, I8:
		return 8
	case U16, I16:
		return 16
	case U32, I32:
		return 32
	default:
		return 64
	}
}
