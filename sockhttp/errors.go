package sockhttp

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotConnected is returned by socket reads and writes before Connect.
	ErrNotConnected = errors.New("sockhttp: socket not connected")

	// ErrMissingHost is returned when a URL has no host to connect to.
	ErrMissingHost = errors.New("sockhttp: missing host")
)

// Endpoint identifies which of a Transport's sockets a request uses.
type Endpoint int

const (
	// EndpointDirect is the socket toward the request's own authority.
	EndpointDirect Endpoint = iota

	// EndpointProxy is the socket toward the configured proxy.
	EndpointProxy
)

func (e Endpoint) String() string {
	switch e {
	case EndpointDirect:
		return "direct"
	case EndpointProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// TransportError reports a failed connect, write or read during Send.
type TransportError struct {
	// Endpoint is the socket role that failed.
	Endpoint Endpoint

	// Op is the failed operation: "connect", "write" or "read".
	Op string

	// Addr is the host:port of the socket.
	Addr string

	// Err is the underlying cause.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sockhttp: %s %s %s: %v", e.Endpoint, e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the underlying cause is a timeout.
func (e *TransportError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}
