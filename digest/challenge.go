package digest

import (
	"fmt"
	"regexp"
	"strings"
)

// AlgorithmMD5 is the only supported digest algorithm.
const AlgorithmMD5 = "md5"

const qopAuth = "auth"

// paramPattern matches key="quoted value" and key=token pairs. Keys are
// lowercase ASCII letters; quoted values cannot contain a double quote.
var paramPattern = regexp.MustCompile(`([a-z]+)=(?:"([^"]*)"|([A-Za-z0-9._~+/-]+))`)

// Challenge holds the parameters of a Digest WWW-Authenticate challenge.
type Challenge struct {
	Realm     string
	QOP       string
	Nonce     string
	Opaque    string
	Algorithm string

	// Stale is set when the server rejected a previous credential only
	// because its nonce expired.
	Stale bool
}

// ParseChallenge parses the value of a WWW-Authenticate header carrying a
// Digest challenge.
//
// It returns ErrProtocolParse when no parameters are found or realm or
// nonce are missing, and ErrUnsupportedFeature when the algorithm is not
// MD5. A missing algorithm defaults to MD5.
func ParseChallenge(header string) (Challenge, error) {
	values, ok := parseParams(header)
	if !ok {
		return Challenge{}, fmt.Errorf("%w: no parameters in %q", ErrProtocolParse, header)
	}

	alg, ok := values["algorithm"]
	if !ok {
		alg = AlgorithmMD5
	}

	if !strings.EqualFold(alg, AlgorithmMD5) {
		return Challenge{}, fmt.Errorf("%w: algorithm %q, only %q is implemented", ErrUnsupportedFeature, alg, AlgorithmMD5)
	}

	for _, key := range []string{"realm", "nonce"} {
		if _, ok := values[key]; !ok {
			return Challenge{}, fmt.Errorf("%w: missing %s", ErrProtocolParse, key)
		}
	}

	return Challenge{
		Realm:     values["realm"],
		QOP:       values["qop"],
		Nonce:     values["nonce"],
		Opaque:    values["opaque"],
		Algorithm: AlgorithmMD5,
		Stale:     strings.EqualFold(values["stale"], "true"),
	}, nil
}

// QOPTokens returns the comma-separated qop list as individual tokens.
func (c Challenge) QOPTokens() []string {
	var tokens []string
	for token := range strings.SplitSeq(c.QOP, ",") {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}

	return tokens
}

// Equal reports whether both challenges carry identical realm, qop, nonce
// and opaque values.
func (c Challenge) Equal(other Challenge) bool {
	return c.Realm == other.Realm &&
		c.QOP == other.QOP &&
		c.Nonce == other.Nonce &&
		c.Opaque == other.Opaque
}

// String renders the challenge as a WWW-Authenticate header value.
func (c Challenge) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, `Digest realm="%s"`, c.Realm)
	if c.QOP != "" {
		fmt.Fprintf(&b, `, qop="%s"`, c.QOP)
	}
	fmt.Fprintf(&b, `, nonce="%s"`, c.Nonce)
	if c.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, c.Opaque)
	}
	b.WriteString(", algorithm=MD5")
	if c.Stale {
		b.WriteString(", stale=true")
	}

	return b.String()
}

// parseParams extracts key/value pairs from a challenge or credential.
// Later duplicates win.
func parseParams(s string) (map[string]string, bool) {
	matches := paramPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil, false
	}

	values := make(map[string]string, len(matches))
	for _, m := range matches {
		value := m[2]
		if m[3] != "" {
			value = m[3]
		}
		values[m[1]] = value
	}

	return values, true
}
