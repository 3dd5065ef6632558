package processor

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// KeyProxyError is the key of the failures of reaching the backend.
	KeyProxyError = "GATEWAY_PROXY_ERROR"

	// KeyStagePanic is the key of the failures caused by a panicking stage.
	KeyStagePanic = "STAGE_PANIC"

	// KeyRequestCancelled is the key of requests abandoned by the client.
	KeyRequestCancelled = "REQUEST_CANCELLED"

	// KeyInternalError is the key of unexpected internal failures.
	KeyInternalError = "GATEWAY_INTERNAL_ERROR"

	// StatusClientClosedRequest is recorded when the client disconnected
	// before the response was sent.
	StatusClientClosedRequest = 499
)

// Failure is the error rendered to the client when a chain fails.
type Failure struct {
	// StatusCode is the HTTP status sent to the client.
	StatusCode int

	// Message is the optional body of the response.
	Message string

	// Key identifies the kind of the failure in logs and metrics.
	Key string

	// ContentType of the message, when set.
	ContentType string

	// Parameters carry arbitrary details for the error stages.
	Parameters map[string]interface{}

	cause error
}

// NewFailure creates a failure with a status code, a key and a message.
func NewFailure(statusCode int, key, message string) *Failure {
	return &Failure{StatusCode: statusCode, Key: key, Message: message}
}

// ProxyError returns the Bad Gateway failure of a backend that could not
// be reached, or did not respond.
func ProxyError(cause error) *Failure {
	return &Failure{
		StatusCode: http.StatusBadGateway,
		Message:    http.StatusText(http.StatusBadGateway),
		Key:        KeyProxyError,
		cause:      cause,
	}
}

// InternalError returns an Internal Server Error failure with the given
// key.
func InternalError(key string, cause error) *Failure {
	return &Failure{
		StatusCode: http.StatusInternalServerError,
		Message:    http.StatusText(http.StatusInternalServerError),
		Key:        key,
		cause:      cause,
	}
}

// Cancelled returns the failure recorded for a request abandoned by
// the client. It is never rendered, the client is gone.
func Cancelled(cause error) *Failure {
	return &Failure{
		StatusCode: StatusClientClosedRequest,
		Message:    "Client Closed Request",
		Key:        KeyRequestCancelled,
		cause:      cause,
	}
}

// WithCause returns a copy of the failure wrapping err.
func (f *Failure) WithCause(err error) *Failure {
	c := *f
	c.cause = err
	return &c
}

func (f *Failure) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%d %s: %s: %v", f.StatusCode, f.Key, f.Message, f.cause)
	}

	return fmt.Sprintf("%d %s: %s", f.StatusCode, f.Key, f.Message)
}

func (f *Failure) Unwrap() error { return f.cause }

// AsFailure returns the failure found in the error chain of err, or an
// internal error wrapping err.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	return InternalError(KeyInternalError, err)
}
