package logging

import "context"

// key is an unexported type to prevent collisions with context keys from other packages.
type key struct{}

var loggerKey = key{}

// WithLogger returns a new context carrying the provided logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the Logger from a context. A NoOpLogger is returned
// when none was attached.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return NoOpLogger{}
	}
	if logger, ok := ctx.Value(loggerKey).(Logger); ok && logger != nil {
		return logger
	}
	return NoOpLogger{}
}

// FromContextOr returns the Logger attached to ctx, or fallback when none was attached.
func FromContextOr(ctx context.Context, fallback Logger) Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(Logger); ok && logger != nil {
			return logger
		}
	}
	return fallback
}
