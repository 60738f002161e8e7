package cloud

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes cloud API failures.
type ErrorKind int

const (
	// KindClient is a 4xx response; never retried, surfaced to the caller.
	KindClient ErrorKind = iota
	// KindServer is a 5xx response; retried with backoff.
	KindServer
	// KindNetwork is a transport-level failure; retried with backoff.
	KindNetwork
	// KindAuth is an authentication/authorization failure; fatal.
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// APIError is a typed cloud API failure.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("cloud api %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("cloud api %s error: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure may succeed on a retry.
func (e *APIError) Retryable() bool {
	return e.Kind == KindServer || e.Kind == KindNetwork
}

// IsRetryable reports whether err is a retryable cloud failure.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// ErrNotFound indicates the requested memory does not exist in the cloud
// namespace.
var ErrNotFound = errors.New("memory not found")

// classifyStatus maps an HTTP status code onto an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status >= 400 && status < 500:
		return KindClient
	default:
		return KindServer
	}
}
