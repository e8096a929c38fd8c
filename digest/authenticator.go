package digest

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/vitalvas/peerhttp/securestr"
)

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithRandSource sets the random source client nonces are drawn from.
// Defaults to a PCG source seeded with the current time.
func WithRandSource(src rand.Source) Option {
	return func(a *Authenticator) {
		a.rng = rand.New(src)
	}
}

// WithClientNonce pins the initial client nonce instead of generating one.
func WithClientNonce(cnonce string) Option {
	return func(a *Authenticator) {
		a.cnonce = cnonce
	}
}

// Authenticator signs requests in answer to one Digest challenge.
//
// Every signed request consumes one value of the nonce count, which starts
// at 1 and only ever increases. A server that rejects the nonce (for example
// with stale=true) needs a new Authenticator built from its new challenge.
//
// An Authenticator is not safe for concurrent use: Sign mutates the nonce
// count. Callers sharing one must serialize access, as Transport does.
type Authenticator struct {
	challenge Challenge
	username  string
	password  *securestr.String

	counter uint32
	cnonce  string
	rng     *rand.Rand
}

// FromChallenge parses a WWW-Authenticate header value and returns an
// Authenticator answering it with the given credentials.
func FromChallenge(header, username string, password *securestr.String, opts ...Option) (*Authenticator, error) {
	ch, err := ParseChallenge(header)
	if err != nil {
		return nil, err
	}

	return New(ch, username, password, opts...)
}

// New returns an Authenticator for an already parsed challenge. A fresh
// client nonce is generated unless WithClientNonce is given.
func New(ch Challenge, username string, password *securestr.String, opts ...Option) (*Authenticator, error) {
	if ch.Algorithm == "" {
		ch.Algorithm = AlgorithmMD5
	}

	if !strings.EqualFold(ch.Algorithm, AlgorithmMD5) {
		return nil, fmt.Errorf("%w: algorithm %q, only %q is implemented", ErrUnsupportedFeature, ch.Algorithm, AlgorithmMD5)
	}

	a := &Authenticator{
		challenge: ch,
		username:  username,
		password:  password,
		counter:   1,
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.rng == nil {
		a.rng = rand.New(timeSeededSource())
	}

	if a.cnonce == "" {
		a.RegenerateClientNonce()
	}

	return a, nil
}

func timeSeededSource() rand.Source {
	seed := uint64(time.Now().UnixNano())
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// Challenge returns the challenge being answered.
func (a *Authenticator) Challenge() Challenge {
	return a.challenge
}

// Username returns the user name credentials are issued for.
func (a *Authenticator) Username() string {
	return a.username
}

// Counter returns the nonce count the next signed request will carry.
func (a *Authenticator) Counter() uint32 {
	return a.counter
}

// ClientNonce returns the current client nonce.
func (a *Authenticator) ClientNonce() string {
	return a.cnonce
}

// SetClientNonce overrides the client nonce. The nonce count is kept.
func (a *Authenticator) SetClientNonce(cnonce string) {
	a.cnonce = cnonce
}

// RegenerateClientNonce draws a new 8 hex digit client nonce from the
// random source. The nonce count is kept.
func (a *Authenticator) RegenerateClientNonce() {
	a.cnonce = fmt.Sprintf("%08x", a.rng.Uint32())
}

// Response returns the response digest for req at the current nonce count.
func (a *Authenticator) Response(req *http.Request) (string, error) {
	if err := a.checkQOP(); err != nil {
		return "", err
	}

	return computeResponse(a.responseInput(req))
}

// Authorization returns the Authorization header value for req at the
// current nonce count without advancing it.
func (a *Authenticator) Authorization(req *http.Request) (string, error) {
	if err := a.checkQOP(); err != nil {
		return "", err
	}

	in := a.responseInput(req)

	response, err := computeResponse(in)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", qop="%s", nc=%s, cnonce="%s", response="%s"`,
		a.username, a.challenge.Realm, a.challenge.Nonce, in.uri, qopAuth, in.nc, in.cnonce, response)

	if a.challenge.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, a.challenge.Opaque)
	}

	return b.String(), nil
}

// Sign sets the Authorization header of req, replacing any previous value,
// and advances the nonce count by one. Nothing is changed on error.
//
// The nonce count never wraps: at its maximum Sign returns
// ErrNonceCountExhausted.
func (a *Authenticator) Sign(req *http.Request) error {
	if a.counter == math.MaxUint32 {
		return ErrNonceCountExhausted
	}

	value, err := a.Authorization(req)
	if err != nil {
		return err
	}

	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set("Authorization", value)

	a.counter++

	return nil
}

// Signed returns a signed clone of req and advances the nonce count. The
// caller's request is left untouched; the clone shares its body.
func (a *Authenticator) Signed(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if err := a.Sign(clone); err != nil {
		return nil, err
	}

	return clone, nil
}

// Equal reports whether both authenticators answer the same challenge.
// Credentials, nonce count and client nonce are not compared.
func (a *Authenticator) Equal(other *Authenticator) bool {
	if a == nil || other == nil {
		return a == other
	}

	return a.challenge.Equal(other.challenge)
}

func (a *Authenticator) String() string {
	return fmt.Sprintf("digest.Authenticator{realm=%q qop=%q nonce=%q opaque=%q username=%q nc=%s cnonce=%q}",
		a.challenge.Realm, a.challenge.QOP, a.challenge.Nonce, a.challenge.Opaque, a.username, formatCount(a.counter), a.cnonce)
}

// LogValue implements slog.LogValuer. Credentials are never included.
func (a *Authenticator) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("realm", a.challenge.Realm),
		slog.String("nonce", a.challenge.Nonce),
		slog.String("username", a.username),
		slog.String("nc", formatCount(a.counter)),
	)
}

func (a *Authenticator) checkQOP() error {
	if !slices.Contains(a.challenge.QOPTokens(), qopAuth) {
		return fmt.Errorf("%w: qop %q, required %q", ErrUnsupportedFeature, a.challenge.QOP, qopAuth)
	}

	return nil
}

func (a *Authenticator) responseInput(req *http.Request) responseInput {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	return responseInput{
		username: a.username,
		realm:    a.challenge.Realm,
		password: a.password,
		method:   method,
		uri:      requestURI(req.URL),
		nonce:    a.challenge.Nonce,
		nc:       formatCount(a.counter),
		cnonce:   a.cnonce,
	}
}
