package sockhttp

import (
	"context"
	"io"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// Socket is a stream connection to one host:port.
type Socket interface {
	io.ReadWriter

	// Connect opens the connection, giving up after timeout.
	Connect(ctx context.Context, timeout time.Duration) error

	// SetTimeout sets the idle timeout applied to every read and write.
	SetTimeout(d time.Duration)

	// IsConnected reports whether Connect succeeded and Close has not been
	// called since.
	IsConnected() bool

	// Close closes the connection. The socket may be connected again.
	Close() error

	// Addr returns the host:port the socket connects to.
	Addr() string
}

// SocketFactory creates an unconnected Socket for addr.
type SocketFactory func(addr string) Socket

// TCPSocket is a Socket over TCP. It dials through a proxy.ContextDialer,
// so the connection itself may be tunnelled, for example via SOCKS5.
type TCPSocket struct {
	addr    string
	dialer  proxy.ContextDialer
	conn    net.Conn
	timeout time.Duration
}

// NewTCPSocket returns an unconnected TCPSocket for addr. A nil dialer
// dials directly.
func NewTCPSocket(addr string, dialer proxy.ContextDialer) *TCPSocket {
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	return &TCPSocket{
		addr:   addr,
		dialer: dialer,
	}
}

// Connect dials the socket's address. It is a no-op when already connected.
func (s *TCPSocket) Connect(ctx context.Context, timeout time.Duration) error {
	if s.conn != nil {
		return nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	s.conn = conn

	return nil
}

func (s *TCPSocket) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *TCPSocket) Read(p []byte) (int, error) {
	if s.conn == nil {
		return 0, ErrNotConnected
	}

	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return 0, err
		}
	}

	return s.conn.Read(p)
}

func (s *TCPSocket) Write(p []byte) (int, error) {
	if s.conn == nil {
		return 0, ErrNotConnected
	}

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return 0, err
		}
	}

	return s.conn.Write(p)
}

func (s *TCPSocket) IsConnected() bool {
	return s.conn != nil
}

func (s *TCPSocket) Close() error {
	if s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	s.conn = nil

	return err
}

func (s *TCPSocket) Addr() string {
	return s.addr
}
