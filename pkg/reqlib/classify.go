package reqlib

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// ClassifyError maps a transport error to the failure reason reported on
// the Request. Errors that are neither timeouts nor cancellations are
// connection errors: the request did not produce a complete response.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureNone
	}

	if errors.Is(err, context.Canceled) {
		return FailureCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimedOut
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimedOut
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) && isConnectionErrno(sysErr) {
		return FailureConnectionError
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return FailureConnectionError
	}

	// String-based pattern matching for wrapped errors
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return FailureTimedOut
	}
	return FailureConnectionError
}
