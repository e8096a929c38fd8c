package client

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalvas/peerhttp/digest"
	"github.com/vitalvas/peerhttp/securestr"
	"github.com/vitalvas/peerhttp/sockhttp"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type protectedServer struct {
	*httptest.Server

	hits  atomic.Int32
	clock *testClock
}

func newProtectedServer(t *testing.T) *protectedServer {
	t.Helper()

	ps := &protectedServer{clock: &testClock{now: time.Now()}}

	c, err := digest.NewChallenger(digest.ChallengerConfig{
		Realm: "devices",
		PasswordLookup: func(user string) (*securestr.String, bool) {
			if user != "admin" {
				return nil, false
			}
			return securestr.New("s3cret"), true
		},
		NonceTTL: time.Minute,
		Now:      ps.clock.Now,
	})
	require.NoError(t, err)

	mw, err := digest.Middleware(digest.MiddlewareConfig{Challenger: c})
	require.NoError(t, err)

	protected := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))
		_, _ = io.WriteString(w, digest.UsernameFromContext(r.Context())+" "+r.URL.RequestURI()+" "+string(body))
	}))

	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.hits.Add(1)
		protected.ServeHTTP(w, r)
	}))
	t.Cleanup(ps.Close)

	return ps
}

func newTestClient(t *testing.T, target string, cfg Config) *Client {
	t.Helper()

	u, err := url.Parse(target)
	require.NoError(t, err)

	c, err := New(u, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(body)
}

func TestNew(t *testing.T) {
	t.Run("missing host", func(t *testing.T) {
		_, err := New(&url.URL{Path: "/x"}, Config{})
		assert.ErrorIs(t, err, sockhttp.ErrMissingHost)
	})

	t.Run("proxy is applied", func(t *testing.T) {
		c := newTestClient(t, "http://example.com/", Config{Proxy: &sockhttp.Proxy{Host: "proxy.local", Port: 3128}})

		require.NotNil(t, c.Transport().Proxy())
		assert.Equal(t, "proxy.local:3128", c.Transport().Proxy().Addr())
		assert.Nil(t, c.Authenticator())
	})
}

func TestDoAnswersChallenge(t *testing.T) {
	server := newProtectedServer(t)
	c := newTestClient(t, server.URL, Config{Username: "admin", Password: securestr.New("s3cret")})

	req, err := http.NewRequest(http.MethodGet, server.URL+"/status?verbose=1", nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin /status?verbose=1 ", readBody(t, resp))
	assert.Equal(t, int32(2), server.hits.Load())
	assert.Empty(t, req.Header.Get("Authorization"), "caller request must not be modified")

	require.NotNil(t, c.Authenticator())
	assert.Equal(t, "devices", c.Authenticator().Challenge().Realm)
	assert.Equal(t, uint32(2), c.Authenticator().Counter())

	t.Run("later requests are signed up front", func(t *testing.T) {
		for i := range 3 {
			req, err := http.NewRequest(http.MethodGet, server.URL+"/item/"+strconv.Itoa(i), nil)
			require.NoError(t, err)

			resp, err := c.Do(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "admin /item/"+strconv.Itoa(i)+" ", readBody(t, resp))
		}

		assert.Equal(t, int32(5), server.hits.Load())
		assert.Equal(t, uint32(5), c.Authenticator().Counter())
	})
}

func TestDoReplaysBody(t *testing.T) {
	server := newProtectedServer(t)
	c := newTestClient(t, server.URL, Config{Username: "admin", Password: securestr.New("s3cret")})

	t.Run("with GetBody", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, server.URL+"/config", strings.NewReader("mode=auto"))
		require.NoError(t, err)

		resp, err := c.Do(req)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "admin /config mode=auto", readBody(t, resp))
	})

	t.Run("without GetBody", func(t *testing.T) {
		fresh := newTestClient(t, server.URL, Config{Username: "admin", Password: securestr.New("s3cret")})

		req, err := http.NewRequest(http.MethodPost, server.URL+"/config", io.NopCloser(strings.NewReader("mode=auto")))
		require.NoError(t, err)

		_, err = fresh.Do(req)
		assert.ErrorIs(t, err, ErrBodyNotReplayable)
	})
}

func TestDoReturnsUnauthorized(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantHits int32
	}{
		{name: "no credentials", cfg: Config{}, wantHits: 1},
		{name: "wrong password", cfg: Config{Username: "admin", Password: securestr.New("nope")}, wantHits: 2},
		{name: "unknown user", cfg: Config{Username: "guest", Password: securestr.New("s3cret")}, wantHits: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newProtectedServer(t)
			c := newTestClient(t, server.URL, tt.cfg)

			req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
			require.NoError(t, err)

			resp, err := c.Do(req)
			require.NoError(t, err)

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.True(t, strings.HasPrefix(resp.Header.Get("WWW-Authenticate"), "Digest "))
			assert.Equal(t, tt.wantHits, server.hits.Load())
		})
	}
}

func TestDoRenewsStaleNonce(t *testing.T) {
	server := newProtectedServer(t)
	c := newTestClient(t, server.URL, Config{Username: "admin", Password: securestr.New("s3cret")})

	req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	first := c.Authenticator().Challenge()
	assert.False(t, first.Stale)

	server.clock.Advance(2 * time.Minute)

	resp, err = c.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(4), server.hits.Load())

	renewed := c.Authenticator().Challenge()
	assert.True(t, renewed.Stale)
	assert.NotEqual(t, first.Nonce, renewed.Nonce)
	assert.Equal(t, uint32(2), c.Authenticator().Counter())
}

func TestDoRequestID(t *testing.T) {
	server := newProtectedServer(t)

	t.Run("generated", func(t *testing.T) {
		c := newTestClient(t, server.URL, Config{
			Username:          "admin",
			Password:          securestr.New("s3cret"),
			GenerateRequestID: func() string { return "req-1" },
		})

		req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
		require.NoError(t, err)

		resp, err := c.Do(req)
		require.NoError(t, err)

		assert.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))
		assert.Empty(t, req.Header.Get("X-Request-ID"))
	})

	t.Run("caller provided", func(t *testing.T) {
		c := newTestClient(t, server.URL, Config{Username: "admin", Password: securestr.New("s3cret")})

		req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
		require.NoError(t, err)
		req.Header.Set("X-Request-ID", "mine")

		resp, err := c.Do(req)
		require.NoError(t, err)

		assert.Equal(t, "mine", resp.Header.Get("X-Request-ID"))
	})

	t.Run("default is uuid v7", func(t *testing.T) {
		id := GenerateUUIDv7()
		assert.Len(t, id, 36)
		assert.Equal(t, byte('7'), id[14])
	})
}

func TestDoChallengeVariants(t *testing.T) {
	tests := []struct {
		name       string
		challenges []string
		wantErr    error
		wantStatus int
	}{
		{
			name:       "basic only",
			challenges: []string{`Basic realm="r"`},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unsupported algorithm",
			challenges: []string{`Digest realm="r", nonce="n", qop="auth", algorithm=SHA-256`},
			wantErr:    digest.ErrUnsupportedFeature,
		},
		{
			name:       "malformed digest",
			challenges: []string{`Digest garbage`},
			wantErr:    digest.ErrProtocolParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for _, ch := range tt.challenges {
					w.Header().Add("WWW-Authenticate", ch)
				}
				w.WriteHeader(http.StatusUnauthorized)
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, Config{Username: "u", Password: securestr.New("p")})

			req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
			require.NoError(t, err)

			resp, err := c.Do(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestDoThroughProxy(t *testing.T) {
	server := newProtectedServer(t)

	var mu sync.Mutex
	var targets []string

	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		targets = append(targets, r.RequestURI)
		mu.Unlock()

		server.Config.Handler.ServeHTTP(w, r)
	}))
	defer proxyServer.Close()

	addr := proxyServer.Listener.Addr().(*net.TCPAddr)

	c := newTestClient(t, "http://camera.example/", Config{
		Username: "admin",
		Password: securestr.New("s3cret"),
		Proxy:    &sockhttp.Proxy{Host: addr.IP.String(), Port: addr.Port},
	})

	req, err := http.NewRequest(http.MethodGet, "http://camera.example/snapshot?size=small", nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin /snapshot?size=small ", readBody(t, resp))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"http://camera.example/snapshot?size=small",
		"http://camera.example/snapshot?size=small",
	}, targets)
}

func TestDoTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := newTestClient(t, "http://"+addr+"/", Config{ConnectTimeout: time.Second})

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/", nil)
	require.NoError(t, err)

	_, err = c.Do(req)

	var terr *sockhttp.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, sockhttp.EndpointDirect, terr.Endpoint)
}
