package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error is a rejection from the upstream node: a non-success HTTP status or
// an error envelope in the RPC response. Rejections are never retried.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream rejected (%d): %s", e.Status, e.Message)
}

// ErrTimeout marks calls that exceeded their deadline.
var ErrTimeout = errors.New("upstream timeout")

// ErrUnsupportedFixture marks offline-mode calls with no registered canned
// response. Fixtures must fail loudly instead of returning an empty success.
var ErrUnsupportedFixture = errors.New("unsupported fixture")

// IsTimeout reports whether err was caused by a deadline rather than a
// rejection.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// IsRejected reports whether the upstream answered with an explicit error.
func IsRejected(err error) bool {
	var rej *Error
	return errors.As(err, &rej)
}
