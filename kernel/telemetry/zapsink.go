package telemetry

import "go.uber.org/zap"

// NewZapSink builds a Subscriber that mirrors every delivered Event as
// a structured JSON log line through zap, for deployments that want
// machine-parseable telemetry rather than (or alongside) the Logger's
// human-readable output.
func NewZapSink(logger *zap.Logger) Subscriber {
	return Subscriber{
		Data: logger,
		OnEvent: func(data any, ev *Event) {
			zl := data.(*zap.Logger)
			zl.Info("module_event",
				zap.Int32("tag", int32(ev.Tag)),
				zap.Time("time", ev.Time),
				zap.Uint64("thread_id", ev.ThreadID),
				zap.Uint64("call_stack_id", ev.CallStackID),
				zap.String("span", ev.SpanName),
				zap.String("message", ev.Message),
			)
		},
	}
}
