package digest

import (
	"net/http"
	"sync"
)

// Transport is an http.RoundTripper that signs outgoing requests with a
// Digest Authenticator.
//
// Signing is serialized, so a single Transport may be used by concurrent
// requests even though the Authenticator itself is not safe for concurrent
// use. Nonce counts are assigned in signing order.
type Transport struct {
	base http.RoundTripper

	mu   sync.Mutex
	auth *Authenticator
}

// NewTransport creates a signing Transport that delegates to base after
// signing each request. When base is nil, a clone of http.DefaultTransport
// is used.
func NewTransport(base http.RoundTripper, auth *Authenticator) *Transport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}

	return &Transport{
		base: base,
		auth: auth,
	}
}

// SetAuthenticator replaces the Authenticator, typically after the server
// issued a new challenge.
func (t *Transport) SetAuthenticator(auth *Authenticator) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.auth = auth
}

// RoundTrip signs a clone of the request and then delegates to the base
// transport. When GetBody is available, the clone receives its own body
// copy.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if clone.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}

		clone.Body = body
	}

	if err := t.sign(clone); err != nil {
		return nil, err
	}

	return t.base.RoundTrip(clone)
}

func (t *Transport) sign(req *http.Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.auth == nil {
		return ErrNoAuthenticator
	}

	return t.auth.Sign(req)
}
