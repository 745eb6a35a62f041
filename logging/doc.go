// Package logging provides a minimal logging interface and adapters for speakmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, runner and HTTP server use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - ServiceLogger, a slog backed logger with thread/turn scoped cloning
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - WithLogger / FromContext for request scoped loggers
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng, err := engine.New(func(o *engine.Options) { o.Logger = logger })
package logging
