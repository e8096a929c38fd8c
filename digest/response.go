package digest

import (
	"crypto/md5" //nolint:gosec // RFC 2617 digest authentication is defined over MD5.
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/vitalvas/peerhttp/securestr"
)

// responseInput carries every value the response digest is computed from.
type responseInput struct {
	username string
	realm    string
	password *securestr.String
	method   string
	uri      string
	nonce    string
	nc       string
	cnonce   string
}

// computeResponse returns the RFC 2617 response for qop=auth:
//
//	HA1      = MD5(username:realm:password)
//	HA2      = MD5(METHOD:uri)
//	response = MD5(HA1:nonce:nc:cnonce:auth:HA2)
func computeResponse(in responseInput) (string, error) {
	ha1, err := ha1(in.username, in.realm, in.password)
	if err != nil {
		return "", err
	}

	ha2 := md5Hex(strings.ToUpper(in.method) + ":" + in.uri)

	return md5Hex(strings.Join([]string{ha1, in.nonce, in.nc, in.cnonce, qopAuth, ha2}, ":")), nil
}

// ha1 hashes the credentials. The password is only read inside the scoped
// WithBytes call and is never copied out of it.
func ha1(username, realm string, password *securestr.String) (string, error) {
	h := md5.New() //nolint:gosec // RFC 2617.
	_, _ = io.WriteString(h, username+":"+realm+":")

	if err := password.WithBytes(func(b []byte) {
		_, _ = h.Write(b)
	}); err != nil {
		return "", fmt.Errorf("digest: password: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // RFC 2617.
	return hex.EncodeToString(sum[:])
}

// formatCount renders a nonce count as 8 lowercase hex digits.
func formatCount(n uint32) string {
	return fmt.Sprintf("%08x", n)
}

// requestURI returns the digest-uri of u: the escaped path, followed by
// "?" and the raw query when the URL carries one.
func requestURI(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return path
}
