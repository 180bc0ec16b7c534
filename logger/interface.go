package logger

import (
	"context"
)

// Levels accepted by New.
const (
	DebugLevel = "DEBUG"
	InfoLevel  = "INFO"
	NoopLevel  = "NOOP"
	TestLevel  = "TEST"
)

// Logger is what the coordination packages depend on. *WrappedLogger
// satisfies it; each package aliases it as its own Logger.
type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	// InfoR logs key value pairs, e.g. the cluster node addresses.
	InfoR(string, ...any)
	// Warnf is for degraded but recoverable states, such as a lost store
	// connection the client will re-establish.
	Warnf(string, ...any)
	Errorf(string, ...any)
	// Panicf is only for configuration that makes start up impossible.
	Panicf(string, ...any)

	FromContext(context.Context) *WrappedLogger
	WithIndex(string, string) *WrappedLogger
	WithServiceName(string) *WrappedLogger
	WithOrganization(string) *WrappedLogger
	Close()
}
