// Package logger provides the process wide zap logger and a sugared wrapper
// that indexes entries by trace id, service and organization.
package logger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
	"syscall"

	opentracing "github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	Plain      *zap.Logger
	Sugar      *WrappedLogger
	undoLogger func()
	// Recorded holds every entry logged at TestLevel.
	Recorded *observer.ObservedLogs
)

const (
	serviceNameKey  = "servicename"
	organizationKey = "organization"
	// TraceIDKey matches tracing.TraceID, repeated to avoid an import cycle.
	TraceIDKey = "x-b3-traceid"
)

type Option = zap.Option

type WrappedLogger struct {
	*zap.SugaredLogger
}

// build constructs the zap logger for a level. TestLevel also returns the
// in memory recording.
func build(level string, opts []zap.Option) (*zap.Logger, *observer.ObservedLogs, error) {
	switch strings.ToUpper(level) {
	case DebugLevel:
		l, err := zap.NewDevelopmentConfig().Build(opts...)
		return l, nil, err
	case NoopLevel:
		return zap.NewNop(), nil, nil
	case TestLevel:
		core, recorded := observer.New(zapcore.DebugLevel)
		return zap.New(core, opts...), recorded, nil
	default:
		l, err := zap.NewProductionConfig().Build(opts...)
		return l, nil, err
	}
}

// New replaces the global loggers with ones for level: DEBUG, INFO (the
// default), NOOP or TEST. The standard library logger is redirected to it.
// Call OnExit when done.
func New(level string, opts ...Option) {
	plain, recorded, err := build(level, opts)
	if err != nil {
		log.Panicf("cannot initialise zap logger: %v", err)
	}
	if undoLogger != nil {
		undoLogger()
	}

	Plain = plain
	Recorded = recorded
	undoLogger = zap.RedirectStdLog(Plain)
	Sugar = &WrappedLogger{Plain.Sugar()}

	Sugar.Debugf("Go version %s", runtime.Version())
}

// OnExit flushes the global loggers and restores the standard library
// logger.
func OnExit() {
	if Sugar != nil {
		_ = Sugar.Sync()
	}
	if Plain != nil {
		_ = Plain.Sync()
	}
	if undoLogger != nil {
		undoLogger()
		undoLogger = nil
	}
	Recorded = nil
}

// InfoR logs args as arg0, v0, arg1, v1 ... fields.
func (wl *WrappedLogger) InfoR(msg string, args ...any) {
	keyVals := make([]any, 0, 2*len(args))
	for i, v := range args {
		keyVals = append(keyVals, fmt.Sprintf("arg%d", i), v)
	}
	wl.WithOptions(zap.AddCallerSkip(1)).Infow(msg, keyVals...)
}

// traceID returns the b3 trace id of the span in ctx, or "".
func traceID(ctx context.Context) (string, error) {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return "", nil
	}
	carrier := opentracing.TextMapCarrier{}
	err := opentracing.GlobalTracer().Inject(span.Context(), opentracing.TextMap, carrier)
	if err != nil {
		return "", err
	}
	return carrier[TraceIDKey], nil
}

// FromContext returns a logger that stamps entries with the trace id of the
// active span, or wl itself when there is none. Call it on entry to anything
// taking a context and Close the result.
func (wl *WrappedLogger) FromContext(ctx context.Context) *WrappedLogger {
	id, err := traceID(ctx)
	if err != nil {
		wl.Debugf("FromContext: can't inject span: %v", err)
		return wl
	}
	if id == "" {
		return wl
	}
	return &WrappedLogger{
		SugaredLogger: wl.With(zap.String(TraceIDKey, id)),
	}
}

func (wl *WrappedLogger) WithServiceName(servicename string) *WrappedLogger {
	return wl.WithIndex(serviceNameKey, servicename)
}

// WithOrganization indexes entries by the organization the work is for.
func (wl *WrappedLogger) WithOrganization(organizationID string) *WrappedLogger {
	return wl.WithIndex(organizationKey, organizationID)
}

// WithIndex adds key with value lower cased.
func (wl *WrappedLogger) WithIndex(key, value string) *WrappedLogger {
	return &WrappedLogger{
		SugaredLogger: wl.With(zap.String(key, strings.ToLower(value))),
	}
}

func (wl *WrappedLogger) WithOptions(opts ...Option) *WrappedLogger {
	return &WrappedLogger{
		wl.Desugar().WithOptions(opts...).Sugar(),
	}
}

// Close flushes buffered entries. EINVAL, returned when syncing a terminal,
// is ignored.
func (wl *WrappedLogger) Close() {
	err := wl.Sync()
	if err != nil && !errors.Is(err, syscall.EINVAL) {
		wl.Debugf("Close: Failed to flush log: %v", err)
	}
}
