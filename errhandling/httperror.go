package errhandling

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/datatrails/go-datatrails-coordination/logger"
)

// HTTPError error type with info about http.StatusCode
type HTTPError interface {
	Error() string
	StatusCode() int
}

type ErrorWithStatus struct {
	err        error
	statusCode int
}

func NewErrorStatus(err error, statusCode int) *ErrorWithStatus {
	return &ErrorWithStatus{
		err:        err,
		statusCode: statusCode,
	}
}

func (e *ErrorWithStatus) StatusCode() int {
	return e.statusCode
}

func (e *ErrorWithStatus) Error() string {
	return e.err.Error()
}

func (e *ErrorWithStatus) Unwrap() error {
	return e.err
}

// StatusCode picks the response status for err: the status of an HTTPError
// in the chain, 503 for transient errors and 500 otherwise.
func StatusCode(err error) int {
	var herr HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode()
	}
	if IsTransient(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details []any  `json:"details"`
}

func JSONWithHTTPStatus(statusCode int, message string) string {
	b, err := json.Marshal(errorBody{
		Code:    strconv.Itoa(statusCode),
		Message: message,
		Details: []any{},
	})
	if err != nil {
		// a struct of strings always marshals
		return `{"code": "500", "message": "", "details": []}`
	}
	return string(b)
}

// WriteError writes err as a JSON error response with the status chosen by
// StatusCode. A transient error carrying a delay also sets Retry-After (whole
// seconds, rounded up). Other headers must be set before calling.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if delay, ok := RetryAfter(err); ok {
		secs := int64(math.Ceil(delay.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, writeErr := w.Write([]byte(JSONWithHTTPStatus(status, err.Error()))); writeErr != nil {
		// nothing we can do about a write error
		logger.Sugar.Infof("failed to write error response: %v", writeErr)
	}
}
