package modcore

import "google.golang.org/protobuf/types/known/wrapperspb"

// DefaultProto wire-encodes a declared parameter's default value, the
// representation used when an Export's declared parameters are shipped
// to a remote loader rather than constructed directly in-process.
func (p ParamDecl) DefaultProto() *wrapperspb.UInt64Value {
	return wrapperspb.UInt64(p.Default)
}
