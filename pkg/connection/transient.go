package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// HTTPError is a non-2xx HTTP answer that carried no RPC error body.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return http.StatusText(e.StatusCode)
	}
	return e.Body
}

// IsTransient reports whether err may go away on retry: timeouts, network
// failures, closed connections, 5xx and 429 answers and busy servers.
// Other RPC errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == CodeServerBusy
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
