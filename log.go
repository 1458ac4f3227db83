package handoffz

import (
	"go.uber.org/zap"
)

// spanFields returns the log fields identifying span.
func spanFields(span *Span) []zap.Field {
	if span == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("trace_id", span.TraceID),
		zap.String("span_id", span.SpanID),
	}
	if parent := span.ParentID(); parent != "" {
		fields = append(fields, zap.String("parent_id", parent))
	}
	return fields
}

// LogSwitches returns a listener that logs every ambient span change on
// a unit at debug level.
func LogSwitches(logger *zap.Logger, u *Unit) SwitchListener {
	logger = logger.With(zap.String("unit", u.Name()))
	return func(from, to *Span) {
		if !logger.Core().Enabled(zap.DebugLevel) {
			return
		}
		fields := make([]zap.Field, 0, 2)
		if from != nil {
			fields = append(fields, zap.String("from", from.SpanID))
		}
		if to != nil {
			fields = append(fields, zap.String("to", to.SpanID))
		}
		logger.Debug("ambient span switched", fields...)
	}
}
