// Package tracing sets up the zipkin backed opentracing tracer for the
// coordinator and carries trace context across HTTP requests and published
// notifications.
package tracing

import (
	"io"
	"net/http"
	"os"
	"strconv"

	otnethttp "github.com/opentracing-contrib/go-stdlib/nethttp"
	opentracing "github.com/opentracing/opentracing-go"
	zipkinot "github.com/openzipkin-contrib/zipkin-go-opentracing"
	zipkin "github.com/openzipkin/zipkin-go"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"
	"go.uber.org/zap"

	"github.com/datatrails/go-datatrails-coordination/environment"
	"github.com/datatrails/go-datatrails-coordination/logger"
)

const (
	prefixTracerState = "x-b3-"
	TraceID           = prefixTracerState + "traceid"

	// SampleRateEnv optionally sets the fraction of traces recorded, 0 to 1.
	SampleRateEnv = "ZIPKIN_SAMPLE_RATE"
)

// untracedPaths are polled by probes and would drown out real traffic.
var untracedPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// HTTPMiddleware starts a server span for every request, continuing any trace
// carried in the request headers. Probe endpoints are not traced.
func HTTPMiddleware(h http.Handler) http.Handler {
	return otnethttp.Middleware(
		opentracing.GlobalTracer(),
		h,
		otnethttp.OperationNameFunc(func(r *http.Request) string {
			return "HTTP " + r.Method + " " + r.URL.EscapedPath()
		}),
		otnethttp.MWSpanFilter(func(r *http.Request) bool {
			return !untracedPaths[r.URL.Path]
		}),
	)
}

type Option func(*options)

type options struct {
	sampleRate float64
}

// WithSampleRate records only the given fraction of traces. Values outside
// (0, 1) record everything.
func WithSampleRate(rate float64) Option {
	return func(o *options) {
		o.sampleRate = rate
	}
}

// NewFromEnv initialises tracing from endpointVar and returns the reporter to
// close on exit. disableVar must be truthy when no endpoint is configured,
// and disables tracing when it is. Returns nil if tracing is disabled.
func NewFromEnv(service string, host string, endpointVar, disableVar string) io.Closer {
	endpoint, configured := os.LookupEnv(endpointVar)
	disabled := environment.GetTruthyOrFatal(disableVar)
	if disabled {
		logger.Sugar.Infof("zipkin disabled by '%s'", disableVar)
		return nil
	}
	if !configured {
		logger.Sugar.Panicf(
			"'%s' has not been provided and is not disabled by '%s'",
			endpointVar, disableVar)
	}

	var opts []Option
	if raw, ok := os.LookupEnv(SampleRateEnv); ok {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			logger.Sugar.Panicf("invalid %s: %v", SampleRateEnv, err)
		}
		opts = append(opts, WithSampleRate(rate))
	}
	return New(service, host, endpoint, opts...)
}

// New installs a zipkin tracer reporting to zipkinEndpoint as the global
// opentracing tracer.
func New(service string, host string, zipkinEndpoint string, opts ...Option) io.Closer {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	localEndpoint, err := zipkin.NewEndpoint(service, host)
	if err != nil {
		logger.Sugar.Panicf("unable to create zipkin local endpoint service '%s' - host '%s': %v", service, host, err)
	}

	reporter := zipkinhttp.NewReporter(
		zipkinEndpoint,
		zipkinhttp.Logger(zap.NewStdLog(logger.Plain.Named("zipkin"))),
	)

	tracerOpts := []zipkin.TracerOption{
		zipkin.WithLocalEndpoint(localEndpoint),
		zipkin.WithSharedSpans(false),
	}
	if o.sampleRate > 0 && o.sampleRate < 1 {
		sampler, err := zipkin.NewBoundarySampler(o.sampleRate, 0)
		if err != nil {
			logger.Sugar.Panicf("invalid zipkin sample rate %v: %v", o.sampleRate, err)
		}
		tracerOpts = append(tracerOpts, zipkin.WithSampler(sampler))
	}

	nativeTracer, err := zipkin.NewTracer(reporter, tracerOpts...)
	if err != nil {
		logger.Sugar.Panicf("unable to create zipkin tracer: %v", err)
	}
	opentracing.SetGlobalTracer(zipkinot.Wrap(nativeTracer))

	return reporter
}
