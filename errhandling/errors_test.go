package errhandling

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datatrails/go-datatrails-coordination/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	base := errors.New("boom")

	table := []struct {
		name     string
		err      error
		expected int
	}{
		{"plain", base, http.StatusInternalServerError},
		{"with status", NewErrorStatus(base, http.StatusTooManyRequests), http.StatusTooManyRequests},
		{"wrapped status", fmt.Errorf("admission: %w", NewErrorStatus(base, http.StatusBadRequest)), http.StatusBadRequest},
		{"transient", NewTransientError(base), http.StatusServiceUnavailable},
	}

	for _, test := range table {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, StatusCode(test.err))
		})
	}
}

func TestTransient(t *testing.T) {
	base := errors.New("store down")
	err := NewTransientErrorf("check %s: %w", "caller", base)

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsTransient(base))
	assert.Nil(t, NewTransientError(nil))

	_, ok := RetryAfter(err)
	assert.False(t, ok)
}

func TestWriteErrorRetryAfter(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	rec := httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("admission: %w", NewTransientErrorAfter(errors.New("store down"), 1500*time.Millisecond)))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestWriteError(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	rec := httptest.NewRecorder()
	WriteError(rec, NewErrorStatus(errors.New(`too "many" requests`), http.StatusTooManyRequests))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"code": "429", "message": "too \"many\" requests", "details": []}`, rec.Body.String())
}
