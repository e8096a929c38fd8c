// Package sockhttp sends HTTP/1.1 requests over plain sockets, directly or
// through a forward proxy.
//
// A Transport owns at most two sockets: one toward the target authority it
// was created for and, once SetProxy is called, one toward the proxy. Every
// Send closes the selected socket if it is still connected, reconnects it,
// writes the request and returns a response whose body is read straight
// from the socket:
//
//	u, _ := url.Parse("http://example.com/")
//	t, err := sockhttp.New(u)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Close()
//
//	t.SetProxy(sockhttp.Proxy{Host: "proxy.internal", Port: 3128, Exclude: []string{".internal"}})
//
//	req, _ := http.NewRequest(http.MethodGet, "http://example.com/index.html", nil)
//	resp, err := t.Send(req, sockhttp.WithTimeout(10*time.Second))
//
// Requests routed through the proxy are written in absolute form
// ("GET http://example.com/index.html HTTP/1.1"). Route exposes the routing
// decision without performing any I/O.
//
// A Transport is not safe for concurrent use; use one Transport per
// in-flight request.
package sockhttp
