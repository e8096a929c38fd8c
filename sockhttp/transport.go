package sockhttp

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// DefaultTimeout is the idle timeout applied to socket reads and writes.
	DefaultTimeout = 60 * time.Second

	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 2 * time.Second
)

// Option configures a Transport.
type Option func(*Transport)

// WithSocketFactory replaces the function creating sockets. It takes
// precedence over WithDialer.
func WithSocketFactory(f SocketFactory) Option {
	return func(t *Transport) {
		t.newSocket = f
	}
}

// WithDialer makes the default TCP sockets dial through d, for example a
// SOCKS5 dialer from golang.org/x/net/proxy.
func WithDialer(d proxy.ContextDialer) Option {
	return func(t *Transport) {
		t.dialer = d
	}
}

// WithLogger sets the logger request and status lines are written to at
// debug level. Authorization headers are redacted.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// SendOption configures a single Send call.
type SendOption func(*sendConfig)

type sendConfig struct {
	timeout        time.Duration
	connectTimeout time.Duration
}

// WithTimeout overrides DefaultTimeout for one Send.
func WithTimeout(d time.Duration) SendOption {
	return func(c *sendConfig) {
		c.timeout = d
	}
}

// WithConnectTimeout overrides DefaultConnectTimeout for one Send.
func WithConnectTimeout(d time.Duration) SendOption {
	return func(c *sendConfig) {
		c.connectTimeout = d
	}
}

// Transport sends requests over a direct socket or, when a proxy is set and
// does not exclude the target, over a proxy socket.
//
// A Transport is not safe for concurrent use: Send closes and reconnects
// the shared sockets.
type Transport struct {
	newSocket SocketFactory
	dialer    proxy.ContextDialer
	logger    *slog.Logger

	direct      Socket
	proxy       *Proxy
	proxySocket Socket
}

// New returns a Transport whose direct socket targets u's authority. The
// port defaults to 80, or 443 for https.
func New(u *url.URL, opts ...Option) (*Transport, error) {
	addr, err := hostPort(u)
	if err != nil {
		return nil, err
	}

	t := &Transport{}
	for _, opt := range opts {
		opt(t)
	}

	if t.newSocket == nil {
		dialer := t.dialer
		t.newSocket = func(addr string) Socket {
			return NewTCPSocket(addr, dialer)
		}
	}

	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}

	t.direct = t.newSocket(addr)

	return t, nil
}

// SetProxy routes subsequent requests through p unless p excludes their
// target. Any previous proxy socket is closed and replaced; the direct
// socket is untouched.
func (t *Transport) SetProxy(p Proxy) {
	if t.proxySocket != nil {
		_ = t.proxySocket.Close()
	}

	t.proxy = &p
	t.proxySocket = t.newSocket(p.Addr())
}

// Proxy returns the configured proxy, or nil.
func (t *Transport) Proxy() *Proxy {
	if t.proxy == nil {
		return nil
	}

	p := *t.proxy

	return &p
}

// Send writes req to the socket chosen by Route and returns the response.
// Status line and headers are read before returning; the body is read
// lazily from the socket and stays valid until the next Send or Close.
//
// A socket still connected from a previous Send is closed and reconnected
// first, since unread body bytes would corrupt the next response. Failures
// are returned as *TransportError; Send never retries.
func (t *Transport) Send(req *http.Request, opts ...SendOption) (*http.Response, error) {
	cfg := sendConfig{
		timeout:        DefaultTimeout,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	decision := Route(req, t.proxy)

	sock := t.direct
	if decision.Endpoint == EndpointProxy {
		sock = t.proxySocket
	}

	fail := func(op string, err error) error {
		return &TransportError{Endpoint: decision.Endpoint, Op: op, Addr: sock.Addr(), Err: err}
	}

	if sock.IsConnected() {
		if err := sock.Close(); err != nil {
			t.logger.Debug("close stale socket", "endpoint", decision.Endpoint, "addr", sock.Addr(), "error", err)
		}
	}

	sock.SetTimeout(cfg.timeout)

	if err := sock.Connect(req.Context(), cfg.connectTimeout); err != nil {
		return nil, fail("connect", err)
	}

	bw := bufio.NewWriter(sock)

	err := writeRequest(bw, req, decision)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		return nil, fail("write", err)
	}

	t.logger.Debug(">>>",
		"endpoint", decision.Endpoint,
		"addr", sock.Addr(),
		"request", req.Method+" "+decision.Target,
		"header", redactHeader(req.Header),
	)

	resp, err := http.ReadResponse(bufio.NewReader(sock), req)
	if err != nil {
		return nil, fail("read", err)
	}

	t.logger.Debug("<<<",
		"endpoint", decision.Endpoint,
		"status", resp.Status,
		"header", resp.Header,
	)

	return resp, nil
}

// Close closes both sockets.
func (t *Transport) Close() error {
	err := t.direct.Close()

	if t.proxySocket != nil {
		if perr := t.proxySocket.Close(); err == nil {
			err = perr
		}
	}

	return err
}

// hostPort returns u's host and port, applying the scheme default port.
func hostPort(u *url.URL) (string, error) {
	if u == nil || u.Hostname() == "" {
		return "", ErrMissingHost
	}

	if port := u.Port(); port != "" {
		return net.JoinHostPort(u.Hostname(), port), nil
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	case "http", "":
		return net.JoinHostPort(u.Hostname(), "80"), nil
	default:
		return "", fmt.Errorf("sockhttp: no default port for scheme %q", u.Scheme)
	}
}

var sensitiveHeaders = []string{"Authorization", "Proxy-Authorization", "Cookie"}

// redactHeader returns a copy of h with credential values replaced.
func redactHeader(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range sensitiveHeaders {
		if _, ok := out[name]; ok {
			out.Set(name, "[REDACTED]")
		}
	}

	return out
}
