package digest

import "errors"

// Challenge and signing errors.
var (
	// ErrProtocolParse is returned when a WWW-Authenticate challenge cannot
	// be parsed.
	ErrProtocolParse = errors.New("digest: malformed challenge")

	// ErrUnsupportedFeature is returned for digest algorithms other than
	// MD5 and for challenges whose qop list lacks "auth".
	ErrUnsupportedFeature = errors.New("digest: unsupported feature")

	// ErrNoAuthenticator is returned by Transport when it has no
	// Authenticator configured.
	ErrNoAuthenticator = errors.New("digest: authenticator must not be nil")

	// ErrNonceCountExhausted is returned by Sign once the nonce count
	// reached its maximum. A new challenge is needed to continue.
	ErrNonceCountExhausted = errors.New("digest: nonce count exhausted")
)

// Verification errors.
var (
	// ErrNoAuthorization is returned when a request carries no
	// Authorization header.
	ErrNoAuthorization = errors.New("digest: authorization not found")

	// ErrMalformedAuthorization is returned when an Authorization header
	// is not a parsable Digest credential.
	ErrMalformedAuthorization = errors.New("digest: malformed authorization header")

	// ErrResponseMismatch is returned when the credential does not match
	// the expected response.
	ErrResponseMismatch = errors.New("digest: response mismatch")

	// ErrUnknownNonce is returned when a credential references a nonce the
	// server never issued.
	ErrUnknownNonce = errors.New("digest: unknown nonce")

	// ErrStaleNonce is returned when a credential references an expired
	// nonce. Servers answer it with stale=true.
	ErrStaleNonce = errors.New("digest: stale nonce")

	// ErrReplayedNonceCount is returned when a nonce count was already
	// used with the same nonce.
	ErrReplayedNonceCount = errors.New("digest: nonce count replayed")

	// ErrNoChallenger is returned when MiddlewareConfig has no Challenger.
	ErrNoChallenger = errors.New("digest: challenger must not be nil")

	// ErrNoPasswordLookup is returned when ChallengerConfig has no
	// PasswordLookup.
	ErrNoPasswordLookup = errors.New("digest: password lookup must not be nil")
)
