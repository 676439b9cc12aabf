package telemetry

import "google.golang.org/protobuf/types/known/timestamppb"

// EventTimestamp converts ev.Time into a protobuf well-known Timestamp,
// the wire representation used once an event needs to cross a process
// boundary (e.g. shipped out by a remote telemetry sink) rather than
// stay in-process as a time.Time.
func EventTimestamp(ev *Event) *timestamppb.Timestamp {
	return timestamppb.New(ev.Time)
}
