package sockhttp

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpproxy"
)

const defaultProxyPort = 8080

// Proxy configures a forward HTTP proxy.
type Proxy struct {
	Host string
	Port int

	// Exclude lists targets that bypass the proxy, in NO_PROXY syntax:
	// host names ("example.com" also matches subdomains, ".example.com"
	// only subdomains), IP addresses, CIDR ranges, optional ":port"
	// suffixes, or "*" for everything.
	Exclude []string
}

// Addr returns the proxy's host:port.
func (p Proxy) Addr() string {
	port := p.Port
	if port == 0 {
		port = defaultProxyPort
	}

	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

// IsExcluded reports whether requests to u bypass the proxy. Only the
// Exclude list is consulted: with an empty list every target, loopback
// hosts included, goes through the proxy.
func (p Proxy) IsExcluded(u *url.URL) bool {
	if u == nil || len(p.Exclude) == 0 {
		return false
	}

	target := *u
	if !strings.EqualFold(target.Scheme, "https") {
		// httpproxy only routes http and https.
		target.Scheme = "http"
	}

	host := strings.ToLower(target.Hostname())
	if isLoopback(host) {
		// httpproxy never proxies loopback targets, so these are matched
		// here against the list alone.
		return matchesExclude(p.Exclude, host, targetPort(&target))
	}

	proxyURL := "http://" + p.Addr()

	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL,
		HTTPSProxy: proxyURL,
		NoProxy:    strings.Join(p.Exclude, ","),
	}

	via, err := cfg.ProxyFunc()(&target)

	return err != nil || via == nil
}

func isLoopback(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

func targetPort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}

	if u.Scheme == "https" {
		return "443"
	}

	return "80"
}

// matchesExclude applies NO_PROXY matching rules to host and port.
func matchesExclude(exclude []string, host, port string) bool {
	ip := net.ParseIP(host)

	for _, entry := range exclude {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}

		if entry == "*" {
			return true
		}

		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			if ip != nil && cidr.Contains(ip) {
				return true
			}
			continue
		}

		entryHost, entryPort := entry, ""
		if h, p, err := net.SplitHostPort(entry); err == nil {
			entryHost, entryPort = h, p
		}
		entryHost = strings.Trim(entryHost, "[]")

		if entryPort != "" && entryPort != port {
			continue
		}

		if entryIP := net.ParseIP(entryHost); entryIP != nil {
			if ip != nil && entryIP.Equal(ip) {
				return true
			}
			continue
		}

		entryHost = strings.TrimPrefix(entryHost, "*")
		if strings.HasPrefix(entryHost, ".") {
			if strings.HasSuffix(host, entryHost) {
				return true
			}
			continue
		}

		if host == entryHost || strings.HasSuffix(host, "."+entryHost) {
			return true
		}
	}

	return false
}

// ProxyFromEnvironment returns the proxy configured for target by the
// HTTP_PROXY, HTTPS_PROXY and NO_PROXY environment variables (or their
// lowercase forms), or nil when none applies to target's scheme.
func ProxyFromEnvironment(target *url.URL) (*Proxy, error) {
	env := httpproxy.FromEnvironment()

	raw := env.HTTPProxy
	if target != nil && target.Scheme == "https" {
		raw = env.HTTPSProxy
	}

	if raw == "" {
		return nil, nil
	}

	p, err := ParseProxy(raw)
	if err != nil {
		return nil, err
	}

	for entry := range strings.SplitSeq(env.NoProxy, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			p.Exclude = append(p.Exclude, entry)
		}
	}

	return p, nil
}

// ParseProxy parses "host:port" or "http://host:port" into a Proxy.
func ParseProxy(raw string) (*Proxy, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("sockhttp: invalid proxy %q: %w", raw, err)
	}

	if u.Scheme != "http" {
		return nil, fmt.Errorf("sockhttp: unsupported proxy scheme %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: proxy %q", ErrMissingHost, raw)
	}

	p := &Proxy{Host: u.Hostname(), Port: defaultProxyPort}
	if port := u.Port(); port != "" {
		p.Port, err = strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("sockhttp: invalid proxy port %q: %w", port, err)
		}
	}

	return p, nil
}
