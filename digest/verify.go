package digest

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/vitalvas/peerhttp/securestr"
)

// Credentials holds the parameters of a Digest Authorization header.
type Credentials struct {
	Username string
	Realm    string
	Nonce    string
	URI      string
	QOP      string
	NC       string
	CNonce   string
	Response string
	Opaque   string
}

// ParseAuthorization parses the value of an Authorization header carrying
// Digest credentials.
func ParseAuthorization(header string) (Credentials, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Digest") {
		return Credentials{}, fmt.Errorf("%w: not a digest credential", ErrMalformedAuthorization)
	}

	values, ok := parseParams(rest)
	if !ok {
		return Credentials{}, ErrMalformedAuthorization
	}

	for _, key := range []string{"username", "realm", "nonce", "uri", "response", "qop", "nc", "cnonce"} {
		if _, ok := values[key]; !ok {
			return Credentials{}, fmt.Errorf("%w: missing %s", ErrMalformedAuthorization, key)
		}
	}

	if alg, ok := values["algorithm"]; ok && !strings.EqualFold(alg, AlgorithmMD5) {
		return Credentials{}, fmt.Errorf("%w: algorithm %q", ErrUnsupportedFeature, alg)
	}

	return Credentials{
		Username: values["username"],
		Realm:    values["realm"],
		Nonce:    values["nonce"],
		URI:      values["uri"],
		QOP:      values["qop"],
		NC:       values["nc"],
		CNonce:   values["cnonce"],
		Response: values["response"],
		Opaque:   values["opaque"],
	}, nil
}

// Verify recomputes the response digest for method and password and
// compares it with the one carried by the credentials in constant time.
func (c Credentials) Verify(method string, password *securestr.String) error {
	if c.QOP != qopAuth {
		return fmt.Errorf("%w: qop %q", ErrUnsupportedFeature, c.QOP)
	}

	expected, err := computeResponse(responseInput{
		username: c.Username,
		realm:    c.Realm,
		password: password,
		method:   method,
		uri:      c.URI,
		nonce:    c.Nonce,
		nc:       c.NC,
		cnonce:   c.CNonce,
	})
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(c.Response))) != 1 {
		return ErrResponseMismatch
	}

	return nil
}
