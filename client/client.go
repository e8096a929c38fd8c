package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vitalvas/peerhttp/digest"
	"github.com/vitalvas/peerhttp/securestr"
	"github.com/vitalvas/peerhttp/sockhttp"
	"golang.org/x/net/proxy"
)

// DefaultRequestIDHeader carries the per-request identifier.
const DefaultRequestIDHeader = "X-Request-ID"

// ErrBodyNotReplayable is returned when a request with a body has to be
// resent but has no GetBody.
var ErrBodyNotReplayable = errors.New("client: request body cannot be replayed")

// Config configures a Client.
type Config struct {
	// Username and Password answer Digest challenges. Without a password
	// 401 responses are returned as is.
	Username string
	Password *securestr.String

	// Proxy routes requests through a forward proxy unless it excludes
	// the target.
	Proxy *sockhttp.Proxy

	// Timeout and ConnectTimeout override the transport defaults when
	// positive.
	Timeout        time.Duration
	ConnectTimeout time.Duration

	// Dialer tunnels socket connections, for example through SOCKS5.
	Dialer proxy.ContextDialer

	// SocketFactory replaces the socket implementation. Mostly for tests.
	SocketFactory sockhttp.SocketFactory

	// AuthOptions are passed to every Authenticator the client creates.
	AuthOptions []digest.Option

	// RequestIDHeader overrides the request ID header name. Defaults to
	// "X-Request-ID".
	RequestIDHeader string

	// GenerateRequestID returns a new request ID. Defaults to
	// GenerateUUIDv7.
	GenerateRequestID func() string

	// Logger receives debug output. Defaults to discarding everything.
	Logger *slog.Logger
}

// Client sends requests to one target authority and answers Digest
// challenges. It is not safe for concurrent use.
type Client struct {
	transport *sockhttp.Transport
	username  string
	password  *securestr.String
	auth      *digest.Authenticator
	authOpts  []digest.Option
	sendOpts  []sockhttp.SendOption
	idHeader  string
	newID     func() string
	logger    *slog.Logger
}

// New returns a Client for target's authority.
func New(target *url.URL, cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := []sockhttp.Option{sockhttp.WithLogger(logger)}
	if cfg.Dialer != nil {
		opts = append(opts, sockhttp.WithDialer(cfg.Dialer))
	}
	if cfg.SocketFactory != nil {
		opts = append(opts, sockhttp.WithSocketFactory(cfg.SocketFactory))
	}

	tr, err := sockhttp.New(target, opts...)
	if err != nil {
		return nil, err
	}

	if cfg.Proxy != nil {
		tr.SetProxy(*cfg.Proxy)
	}

	c := &Client{
		transport: tr,
		username:  cfg.Username,
		password:  cfg.Password,
		authOpts:  cfg.AuthOptions,
		idHeader:  cfg.RequestIDHeader,
		newID:     cfg.GenerateRequestID,
		logger:    logger,
	}

	if c.idHeader == "" {
		c.idHeader = DefaultRequestIDHeader
	}

	if c.newID == nil {
		c.newID = GenerateUUIDv7
	}

	if cfg.Timeout > 0 {
		c.sendOpts = append(c.sendOpts, sockhttp.WithTimeout(cfg.Timeout))
	}

	if cfg.ConnectTimeout > 0 {
		c.sendOpts = append(c.sendOpts, sockhttp.WithConnectTimeout(cfg.ConnectTimeout))
	}

	return c, nil
}

// Authenticator returns the authenticator used for signing, or nil before
// the first challenge was answered.
func (c *Client) Authenticator() *digest.Authenticator {
	return c.auth
}

// SetAuthenticator replaces the authenticator, for example one restored
// from an earlier session.
func (c *Client) SetAuthenticator(a *digest.Authenticator) {
	c.auth = a
}

// Transport returns the underlying socket transport.
func (c *Client) Transport() *sockhttp.Transport {
	return c.transport
}

// Do sends req and returns the response. req itself is not modified.
//
// With an authenticator in place the request is signed before sending. A
// 401 answer carrying a Digest challenge is answered once with a fresh
// authenticator when credentials are configured, including after
// stale=true. A second 401 is returned to the caller.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if out.Header.Get(c.idHeader) == "" {
		out.Header.Set(c.idHeader, c.newID())
	}

	if c.auth != nil {
		if err := c.auth.Sign(out); err != nil {
			return nil, err
		}
	}

	resp, err := c.transport.Send(out, c.sendOpts...)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || c.password == nil {
		return resp, nil
	}

	header, ok := digestChallenge(resp.Header)
	if !ok {
		return resp, nil
	}

	auth, err := digest.FromChallenge(header, c.username, c.password, c.authOpts...)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("client: answer challenge: %w", err)
	}

	retry, err := c.replay(out)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	resp.Body.Close()

	c.logger.Debug("answering digest challenge",
		"realm", auth.Challenge().Realm,
		"stale", auth.Challenge().Stale,
		"request_id", out.Header.Get(c.idHeader),
	)

	c.auth = auth

	if err := c.auth.Sign(retry); err != nil {
		return nil, err
	}

	return c.transport.Send(retry, c.sendOpts...)
}

// Close closes the transport's sockets.
func (c *Client) Close() error {
	return c.transport.Close()
}

// replay returns a copy of req with a fresh body.
func (c *Client) replay(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	retry.Header.Del("Authorization")

	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}

	if req.GetBody == nil {
		return nil, ErrBodyNotReplayable
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBodyNotReplayable, err)
	}

	retry.Body = body

	return retry, nil
}

// digestChallenge returns the first Digest challenge among the
// WWW-Authenticate values of h.
func digestChallenge(h http.Header) (string, bool) {
	for _, v := range h.Values("WWW-Authenticate") {
		scheme, _, _ := strings.Cut(strings.TrimSpace(v), " ")
		if strings.EqualFold(scheme, "Digest") {
			return v, true
		}
	}

	return "", false
}

// GenerateUUIDv7 returns a new UUID v7 string. IDs generated later sort
// after earlier ones.
func GenerateUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
