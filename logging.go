package nbtls

import "go.uber.org/zap"

// defaultLogger is used by any Encryptor or SocketPool constructed without
// an explicit logger, exactly as caddy.Log() backs every module that does
// not carry its own *zap.Logger.
var defaultLogger = zap.NewNop()

// SetDefaultLogger replaces the package-wide fallback logger. Pass a
// production or development zap.Logger during process startup; the
// no-op default keeps tests quiet.
func SetDefaultLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	defaultLogger = l
}

// Log returns the current default logger, used wherever a component wasn't
// given one of its own.
func Log() *zap.Logger { return defaultLogger }

// NamedLogger returns logger, or the package default if logger is nil,
// named with component.
func NamedLogger(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		logger = defaultLogger
	}
	return logger.Named(component)
}
