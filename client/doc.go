// Package client composes digest signing with the socket transport.
//
// A Client sends requests to one target authority. When the server answers
// 401 with a Digest challenge and credentials are configured, the request
// is signed in answer to that challenge and sent once more; later requests
// reuse the same Authenticator so their nonce count keeps increasing:
//
//	u, _ := url.Parse("http://camera.local/")
//	c, err := client.New(u, client.Config{
//	    Username: "admin",
//	    Password: securestr.New("secret"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	req, _ := http.NewRequest(http.MethodGet, "http://camera.local/status", nil)
//	resp, err := c.Do(req)
//
// Requests with a body are only resent when GetBody is set, which
// http.NewRequest does for in-memory bodies.
package client
