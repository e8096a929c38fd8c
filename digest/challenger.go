package digest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitalvas/peerhttp/securestr"
)

// defaultNonceTTL bounds how long an issued nonce is accepted.
const defaultNonceTTL = 5 * time.Minute

// PasswordLookup returns the password of username, or false when the user
// is unknown.
type PasswordLookup func(username string) (*securestr.String, bool)

// ChallengerConfig configures the server side of Digest authentication.
type ChallengerConfig struct {
	// Realm is announced in every challenge. Defaults to "restricted".
	Realm string

	// PasswordLookup resolves user passwords. Required.
	PasswordLookup PasswordLookup

	// NonceTTL is the lifetime of an issued nonce. Expired nonces are
	// answered with stale=true. Defaults to 5 minutes.
	NonceTTL time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

type nonceState struct {
	opaque string
	issued time.Time
	seen   map[uint64]struct{}
}

// Challenger issues Digest challenges and verifies the credentials sent in
// answer to them. Every nonce count is accepted once per nonce; requests
// signed concurrently may arrive out of order.
//
// A Challenger is safe for concurrent use.
type Challenger struct {
	realm    string
	lookup   PasswordLookup
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
	nonces   map[string]*nonceState
	lastSeen time.Time
}

// NewChallenger returns a Challenger. It returns ErrNoPasswordLookup if
// cfg.PasswordLookup is nil.
func NewChallenger(cfg ChallengerConfig) (*Challenger, error) {
	if cfg.PasswordLookup == nil {
		return nil, ErrNoPasswordLookup
	}

	c := &Challenger{
		realm:  cfg.Realm,
		lookup: cfg.PasswordLookup,
		ttl:    cfg.NonceTTL,
		now:    cfg.Now,
		nonces: make(map[string]*nonceState),
	}

	if c.realm == "" {
		c.realm = "restricted"
	}

	if c.ttl <= 0 {
		c.ttl = defaultNonceTTL
	}

	if c.now == nil {
		c.now = time.Now
	}

	return c, nil
}

// Issue creates a new challenge and remembers its nonce.
func (c *Challenger) Issue(stale bool) Challenge {
	ch := Challenge{
		Realm:     c.realm,
		QOP:       qopAuth,
		Nonce:     generateServerNonce(),
		Opaque:    uuid.NewString(),
		Algorithm: AlgorithmMD5,
		Stale:     stale,
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweep(now)
	c.nonces[ch.Nonce] = &nonceState{
		opaque: ch.Opaque,
		issued: now,
		seen:   make(map[uint64]struct{}),
	}

	return ch
}

// Authenticate verifies the Digest credentials of r and returns the
// authenticated user name.
func (c *Challenger) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoAuthorization
	}

	creds, err := ParseAuthorization(header)
	if err != nil {
		return "", err
	}

	if creds.Realm != c.realm {
		return "", fmt.Errorf("%w: realm %q", ErrResponseMismatch, creds.Realm)
	}

	if creds.URI != requestURI(r.URL) {
		return "", fmt.Errorf("%w: uri %q", ErrResponseMismatch, creds.URI)
	}

	nc, err := strconv.ParseUint(creds.NC, 16, 32)
	if err != nil || len(creds.NC) != 8 {
		return "", fmt.Errorf("%w: nc %q", ErrMalformedAuthorization, creds.NC)
	}

	password, ok := c.lookup(creds.Username)
	if !ok {
		return "", ErrResponseMismatch
	}

	if err := creds.Verify(r.Method, password); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.nonces[creds.Nonce]
	if !ok {
		return "", ErrUnknownNonce
	}

	if c.now().Sub(state.issued) > c.ttl {
		delete(c.nonces, creds.Nonce)
		return "", ErrStaleNonce
	}

	if creds.Opaque != state.opaque {
		return "", fmt.Errorf("%w: opaque", ErrResponseMismatch)
	}

	if _, replayed := state.seen[nc]; replayed || nc == 0 {
		return "", fmt.Errorf("%w: nc %s", ErrReplayedNonceCount, creds.NC)
	}
	state.seen[nc] = struct{}{}

	return creds.Username, nil
}

// sweep drops expired nonces. Callers hold c.mu.
func (c *Challenger) sweep(now time.Time) {
	if now.Sub(c.lastSeen) < c.ttl {
		return
	}
	c.lastSeen = now

	for nonce, state := range c.nonces {
		if now.Sub(state.issued) > c.ttl {
			delete(c.nonces, nonce)
		}
	}
}

func generateServerNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}

	return hex.EncodeToString(b)
}

type usernameKey struct{}

// UsernameFromContext returns the user name stored by Middleware, or an
// empty string.
func UsernameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(usernameKey{}).(string); ok {
		return name
	}

	return ""
}

// MiddlewareConfig configures the server-side Digest middleware.
type MiddlewareConfig struct {
	// Challenger verifies credentials and issues challenges. Required.
	Challenger *Challenger

	// OnError is called when authentication fails. When nil, a 401
	// response carrying a fresh challenge is sent, with stale=true if the
	// nonce expired.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware returns a middleware that requires Digest authentication.
//
// It returns ErrNoChallenger if cfg.Challenger is nil.
func Middleware(cfg MiddlewareConfig) (func(http.Handler) http.Handler, error) {
	if cfg.Challenger == nil {
		return nil, ErrNoChallenger
	}

	c := cfg.Challenger

	onError := cfg.OnError
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			w.Header().Set("WWW-Authenticate", c.Issue(errors.Is(err, ErrStaleNonce)).String())
			w.WriteHeader(http.StatusUnauthorized)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, err := c.Authenticate(r)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), usernameKey{}, name)))
		})
	}, nil
}
