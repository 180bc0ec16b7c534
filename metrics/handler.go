package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/datatrails/go-datatrails-coordination/tenantid"
)

// we have to intercept the ResponseWriter in order to get the statuscode
type LoggingResponseWriter struct {
	http.ResponseWriter
	StatusCode int
}

func (lrw *LoggingResponseWriter) WriteHeader(code int) {
	lrw.StatusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (lrw *LoggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// NewLatencyMetricsHandler counts and times requests for the paths
// registered with WithLabel. A nil *Metrics returns h unchanged.
func (m *Metrics) NewLatencyMetricsHandler(h http.Handler) http.Handler {

	if m == nil {
		return h
	}
	m.log.Debugf("NewLatencyMetricsHandler")
	observer := NewLatencyObservers(m)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := m.log.FromContext(r.Context())
		defer log.Close()

		fields := strings.Split(strings.Trim(r.URL.Path, "/ "), "/")
		if _, ok := observer.resource(fields); !ok {
			h.ServeHTTP(w, r)
			return
		}

		// WriteHeader(int) is not called if our response implicitly returns 200 OK, so
		// we default to that status code.
		lrw := &LoggingResponseWriter{
			ResponseWriter: w,
			StatusCode:     http.StatusOK,
		}

		start := time.Now()
		h.ServeHTTP(lrw, r)
		latency := time.Since(start).Seconds()

		organization := tenantid.GetOrganizationIDFromHeader(r.Header)
		observer.ObserveRequestsCount(fields, r.Method, organization)
		observer.ObserveRequestsLatency(latency, fields, r.Method, organization)
	})
}
