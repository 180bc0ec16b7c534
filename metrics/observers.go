package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

type latencyObserveOffset struct {
	label  string
	offset int
}

// Latency observers
type LatencyObservers struct {
	requestsCounter *prometheus.CounterVec
	requestsLatency *prometheus.HistogramVec
	serviceName     string
	labels          []latencyObserveOffset
	log             Logger
}

// NewLatencyObservers is specific to calculating the network latency and packet count.
func NewLatencyObservers(m *Metrics) LatencyObservers {

	o := LatencyObservers{
		log:             m.log,
		requestsCounter: RequestsCounterMetric(),
		requestsLatency: RequestsLatencyMetric(),
		serviceName:     strings.ToLower(m.serviceName),
		labels:          m.labels,
	}

	m.Register(o.requestsCounter, o.requestsLatency)
	return o
}

func (o *LatencyObservers) resource(fields []string) (string, bool) {
	for _, label := range o.labels {
		if len(fields) > label.offset && fields[label.offset] == label.label {
			return label.label, true
		}
	}
	return "", false
}

func (o *LatencyObservers) ObserveRequestsCount(fields []string, method string, organization string) {
	resource, ok := o.resource(fields)
	if !ok {
		return
	}
	o.log.Debugf("Count %s: %s", resource, method)
	o.requestsCounter.WithLabelValues(method, organization, o.serviceName, resource).Inc()
}

func (o *LatencyObservers) ObserveRequestsLatency(elapsed float64, fields []string, method string, organization string) {
	resource, ok := o.resource(fields)
	if !ok {
		return
	}
	o.log.Debugf("Latency %v %s: %s", elapsed, resource, method)
	o.requestsLatency.WithLabelValues(method, organization, o.serviceName, resource).Observe(elapsed)
}

const (
	resultHit       = "hit"
	resultMiss      = "miss"
	resultAcquired  = "acquired"
	resultContended = "contended"
	decisionAllowed = "allowed"
	decisionDenied  = "denied"
	directionOut    = "published"
	directionIn     = "delivered"
)

// CoordinationObservers records the events of the coordination layer. It
// satisfies redis.Observer and is handed to redis.NewStore with
// redis.WithObserver.
type CoordinationObservers struct {
	cacheLookups     *prometheus.CounterVec
	lockAcquisitions *prometheus.CounterVec
	rateLimits       *prometheus.CounterVec
	messages         *prometheus.CounterVec
	storeAvailable   *prometheus.GaugeVec
	serviceName      string
}

func NewCoordinationObservers(m *Metrics) *CoordinationObservers {
	o := &CoordinationObservers{
		cacheLookups:     CacheLookupsMetric(),
		lockAcquisitions: LockAcquisitionsMetric(),
		rateLimits:       RateLimitDecisionsMetric(),
		messages:         MessagesMetric(),
		storeAvailable:   StoreAvailableMetric(),
		serviceName:      m.serviceName,
	}
	m.Register(o.cacheLookups, o.lockAcquisitions, o.rateLimits, o.messages, o.storeAvailable)
	return o
}

func pick(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

func (o *CoordinationObservers) CacheLookup(hit bool) {
	o.cacheLookups.WithLabelValues(o.serviceName, pick(hit, resultHit, resultMiss)).Inc()
}

func (o *CoordinationObservers) LockAcquire(acquired bool) {
	o.lockAcquisitions.WithLabelValues(o.serviceName, pick(acquired, resultAcquired, resultContended)).Inc()
}

func (o *CoordinationObservers) RateLimitDecision(allowed bool) {
	o.rateLimits.WithLabelValues(o.serviceName, pick(allowed, decisionAllowed, decisionDenied)).Inc()
}

func (o *CoordinationObservers) MessagePublished(channel string) {
	o.messages.WithLabelValues(o.serviceName, directionOut, channel).Inc()
}

func (o *CoordinationObservers) MessageDelivered(channel string) {
	o.messages.WithLabelValues(o.serviceName, directionIn, channel).Inc()
}

func (o *CoordinationObservers) StoreAvailable(up bool) {
	v := 0.0
	if up {
		v = 1
	}
	o.storeAvailable.WithLabelValues(o.serviceName).Set(v)
}
