package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMiddlewareSkipsProbes(t *testing.T) {
	tracer := withMockTracer(t)

	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, tracer.FinishedSpans())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/notifications", nil))
	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET /notifications", spans[0].OperationName)
}
