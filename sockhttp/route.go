package sockhttp

import (
	"io"
	"net/http"
	"net/url"
)

// Decision is the outcome of routing a request: the socket to use and the
// request target written on the request line.
type Decision struct {
	Endpoint Endpoint
	Target   string
}

// Route decides how req is sent. Without a proxy, or when the proxy
// excludes the target, the request goes to the direct endpoint in origin
// form ("/path?query"). Otherwise it goes to the proxy in absolute form
// ("scheme://host[:port]/path?query"), the authority taken from req.URL.
func Route(req *http.Request, p *Proxy) Decision {
	if p == nil || p.IsExcluded(req.URL) {
		return Decision{Endpoint: EndpointDirect, Target: req.URL.RequestURI()}
	}

	return Decision{Endpoint: EndpointProxy, Target: absoluteTarget(req)}
}

func absoluteTarget(req *http.Request) string {
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}

	return req.URL.Scheme + "://" + host + req.URL.RequestURI()
}

// writeRequest writes req with d.Target on the request line. The Host
// header still follows req.Host when set.
func writeRequest(w io.Writer, req *http.Request, d Decision) error {
	if d.Target == req.URL.RequestURI() {
		return req.Write(w)
	}

	out := req.Clone(req.Context())
	out.URL = &url.URL{Scheme: req.URL.Scheme, Host: req.URL.Host, Opaque: d.Target}

	return out.Write(w)
}
