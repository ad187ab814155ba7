// Package logging implements spok's logger-interface-behind-zap pattern,
// generalized from a single Debug-only interface (spok only ever needs
// --verbose debug logs) to the fuller set of levels a distributed
// coordinator needs in order to report worker loss, retries, and access
// violations without drowning routine debug output.
package logging

import "go.uber.org/zap"

// Logger is the interface behind which a structured, levelled logger
// sits. Every subsystem takes one by field; none of them reach for a
// package-level global (Design Notes: "no static mutability outside of
// debug trace infrastructure").
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Sync() error
}

// ZapLogger is a Logger backed by go.uber.org/zap, following spok's
// logger.ZapLogger construction exactly (NewDevelopmentConfig with
// DisableCaller, level gated by a verbose flag).
type ZapLogger struct {
	inner *zap.SugaredLogger
}

// New builds a ZapLogger. verbose selects debug level; otherwise info.
func New(verbose bool) (*ZapLogger, error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableCaller = true
	logger, err := cfg.Build(zap.IncreaseLevel(level))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{inner: logger.Sugar()}, nil
}

func (z *ZapLogger) Debug(format string, args ...any) { z.inner.Debugf(format, args...) }
func (z *ZapLogger) Info(format string, args ...any)  { z.inner.Infof(format, args...) }
func (z *ZapLogger) Warn(format string, args ...any)  { z.inner.Warnf(format, args...) }
func (z *ZapLogger) Error(format string, args ...any) { z.inner.Errorf(format, args...) }
func (z *ZapLogger) Sync() error                      { return z.inner.Sync() }

// noopLogger discards everything; used as a safe default so every
// subsystem constructor can take a nil Logger without a nil check at
// every call site.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Sync() error          { return nil }

// Noop returns a Logger that discards everything.
func Noop() Logger { return noopLogger{} }
