package hotstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable indicates the hot store connection is not usable. Callers
// must not surface this to end users directly; the degradation controller
// decides how the failure is presented.
var ErrUnavailable = errors.New("hot store unavailable")

// OpError wraps a failed hot-store operation with its name and key.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("hot store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("hot store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// wrapErr classifies a go-redis error. Network-level failures map onto
// ErrUnavailable so callers can trigger degradation; redis.Nil is never
// passed here (misses are not errors).
func wrapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if isConnErr(err) {
		return &OpError{Op: op, Key: key, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	return &OpError{Op: op, Key: key, Err: err}
}

func isConnErr(err error) bool {
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
