// Package digest implements HTTP Digest Access Authentication per RFC 2617
// with the MD5 algorithm and the "auth" quality of protection.
//
// # Answering a Challenge
//
// Build an Authenticator from the WWW-Authenticate header of a 401 response
// and sign every following request with it:
//
//	pass := securestr.New("secret")
//	defer pass.Destroy()
//
//	auth, err := digest.FromChallenge(resp.Header.Get("WWW-Authenticate"), "alice", pass)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := auth.Sign(req); err != nil {
//	    log.Fatal(err)
//	}
//
// Sign sets the Authorization header and advances the nonce count (nc).
// The count is never reset; a server that rejects the nonce, for example
// with stale=true, must be answered by a new Authenticator built from the
// new challenge.
//
// Only MD5 is implemented: FromChallenge fails with ErrUnsupportedFeature
// for any other algorithm. Signing fails with ErrUnsupportedFeature when
// the challenge's qop list lacks "auth".
//
// # Client Transport
//
// NewTransport wraps an http.RoundTripper and signs every request:
//
//	client := &http.Client{
//	    Transport: digest.NewTransport(nil, auth),
//	}
//
// # Server Middleware
//
// Challenger issues challenges and verifies credentials, rejecting unknown
// nonces and replayed nonce counts. Middleware plugs it into an
// http.Handler chain:
//
//	c, err := digest.NewChallenger(digest.ChallengerConfig{
//	    Realm: "api",
//	    PasswordLookup: func(user string) (*securestr.String, bool) {
//	        p, ok := users[user]
//	        return p, ok
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mw, err := digest.Middleware(digest.MiddlewareConfig{Challenger: c})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	handler = mw(handler)
package digest
