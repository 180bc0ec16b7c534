package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datatrails/go-datatrails-coordination/environment"
)

const (
	namespace = "coordinator"
)

// RequestsCounterMetric measures consumption per organization
func RequestsCounterMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests by method, organization, service and resource.",
		},
		[]string{"method", "organization", "service", "resource"},
	)
}

// RequestsLatencyMetric measures an SLA "95% of all requests must be made in less than 100ms" and to
// plot average response latency and the apdex score.
// https://www.bookstack.cn/read/prometheus-en/1e87bb1c6ea1f003.md
// bucket limits are in seconds...
func RequestsLatencyMetric() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "requests_latency",
			Help:      "Histogram of time to reply to request.",
			Buckets:   []float64{.005, .01, .02, .04, .08, .16, .32},
		},
		[]string{"method", "organization", "service", "resource"},
	)
}

// CacheLookupsMetric counts cache reads by result (hit or miss).
func CacheLookupsMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by service and result.",
		},
		[]string{"service", "result"},
	)
}

// LockAcquisitionsMetric counts lock attempts by result (acquired or
// contended).
func LockAcquisitionsMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Distributed lock acquisition attempts by service and result.",
		},
		[]string{"service", "result"},
	)
}

func RateLimitDecisionsMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by service and decision.",
		},
		[]string{"service", "decision"},
	)
}

// MessagesMetric counts pub/sub traffic by direction (published or
// delivered) and channel.
func MessagesMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Pub/sub messages by service, direction and channel.",
		},
		[]string{"service", "direction", "channel"},
	)
}

// StoreAvailableMetric is 1 while the backing store answers and 0 after a
// connection loss.
func StoreAvailableMetric() *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_available",
			Help:      "Backing store availability as last observed by the service.",
		},
		[]string{"service"},
	)
}

// Metrics. Only those metrics specified
// are returned. The GoCollector and ProcessCollector metrics are omitted by
// using our own registry.
type Metrics struct {
	serviceName string
	port        string
	registry    *prometheus.Registry
	labels      []latencyObserveOffset
	log         Logger
}

type MetricsOption func(*Metrics)

// WithLabel counts requests whose path has label at offset, e.g.
// WithLabel("notifications", 0) for /notifications/...
func WithLabel(label string, offset int) MetricsOption {
	return func(m *Metrics) {
		m.labels = append(m.labels, latencyObserveOffset{label: label, offset: offset})
	}
}

func New(log Logger, serviceName string, opts ...MetricsOption) *Metrics {
	m := Metrics{
		log:         log,
		serviceName: strings.ToLower(serviceName),
		registry:    prometheus.NewRegistry(),
		labels:      []latencyObserveOffset{},
	}
	for _, opt := range opts {
		opt(&m)
	}
	return &m
}

// NewFromEnvironment returns nil when USE_METRICS is false. All methods on a
// nil *Metrics are safe.
func NewFromEnvironment(log Logger, serviceName string, opts ...MetricsOption) *Metrics {
	useMetrics := environment.GetTruthyOrFatal("USE_METRICS")
	var port string
	if useMetrics {
		port = environment.GetOrFatal("METRICS_PORT")
	}
	var m *Metrics
	if port != "" {
		m = New(
			log,
			serviceName,
			opts...,
		)
		m.port = port
	}
	return m
}

func (m *Metrics) String() string {
	return m.serviceName
}

func (m *Metrics) Register(cs ...prometheus.Collector) {
	m.registry.MustRegister(cs...)
}

func (m *Metrics) Port() string {
	if m != nil {
		return m.port
	}
	return ""
}

// NewPromHandler - this handler is used on the endpoint that serves metrics endpoint
// which is provided on a different port to the service.
// The default InstrumentMetricHandler is suppressed.
func (m *Metrics) NewPromHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
