// Package logging provides utilities for structured logging across the
// fabric.
//
// Design principles:
//   - Logging is dependency-injected, never global
//   - Each component owns its own scoped logger
//   - Logger scoping happens once at construction time
//   - If no logger is provided, a discard logger is used
//
// Global configuration (output format, level, destination) belongs only
// in main(). Logging is intentionally sparse: lifecycle boundaries are
// the intended log points, never the append/read/apply hot paths.
package logging

import (
	"context"
	"io"
	stdlog "log"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise a discard
// logger. The standard pattern for optional logger parameters:
//
//	func NewComponent(logger *slog.Logger) *Component {
//	    logger = logging.Default(logger)
//	    return &Component{logger: logger.With("component", "name")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// Hclog adapts an slog logger to the hclog interface consumed by
// hashicorp/raft, so consensus-internal logs flow through the same
// injected logger as everything else.
func Hclog(logger *slog.Logger, name string) hclog.Logger {
	return &hclogAdapter{logger: Default(logger).With("component", name), name: name}
}

type hclogAdapter struct {
	logger *slog.Logger
	name   string
}

func (a *hclogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Trace, hclog.Debug:
		a.logger.Debug(msg, args...)
	case hclog.NoLevel, hclog.Info:
		a.logger.Info(msg, args...)
	case hclog.Warn:
		a.logger.Warn(msg, args...)
	case hclog.Error, hclog.Off:
		a.logger.Error(msg, args...)
	}
}

func (a *hclogAdapter) Trace(msg string, args ...interface{}) { a.logger.Debug(msg, args...) }
func (a *hclogAdapter) Debug(msg string, args ...interface{}) { a.logger.Debug(msg, args...) }
func (a *hclogAdapter) Info(msg string, args ...interface{})  { a.logger.Info(msg, args...) }
func (a *hclogAdapter) Warn(msg string, args ...interface{})  { a.logger.Warn(msg, args...) }
func (a *hclogAdapter) Error(msg string, args ...interface{}) { a.logger.Error(msg, args...) }

func (a *hclogAdapter) IsTrace() bool { return a.logger.Enabled(context.Background(), slog.LevelDebug) }
func (a *hclogAdapter) IsDebug() bool { return a.logger.Enabled(context.Background(), slog.LevelDebug) }
func (a *hclogAdapter) IsInfo() bool  { return a.logger.Enabled(context.Background(), slog.LevelInfo) }
func (a *hclogAdapter) IsWarn() bool  { return a.logger.Enabled(context.Background(), slog.LevelWarn) }
func (a *hclogAdapter) IsError() bool { return a.logger.Enabled(context.Background(), slog.LevelError) }

func (a *hclogAdapter) ImpliedArgs() []interface{} { return nil }

func (a *hclogAdapter) With(args ...interface{}) hclog.Logger {
	return &hclogAdapter{logger: a.logger.With(args...), name: a.name}
}

func (a *hclogAdapter) Name() string { return a.name }

func (a *hclogAdapter) Named(name string) hclog.Logger {
	return &hclogAdapter{logger: a.logger, name: a.name + "." + name}
}

func (a *hclogAdapter) ResetNamed(name string) hclog.Logger {
	return &hclogAdapter{logger: a.logger, name: name}
}

func (a *hclogAdapter) SetLevel(level hclog.Level) {}

func (a *hclogAdapter) GetLevel() hclog.Level { return hclog.Info }

func (a *hclogAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *stdlog.Logger {
	return stdlog.New(a.StandardWriter(opts), "", 0)
}

func (a *hclogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return &stdlogWriter{logger: a.logger}
}

type stdlogWriter struct {
	logger *slog.Logger
}

func (w *stdlogWriter) Write(p []byte) (int, error) {
	w.logger.Info(string(p))
	return len(p), nil
}
