package sockhttp

import (
	"bytes"
	"context"
	"strings"
	"time"
)

// fakeSocket records every call and serves a canned response after each
// Connect.
type fakeSocket struct {
	addr       string
	response   string
	connectErr error

	connected      bool
	ops            []string
	timeout        time.Duration
	connectTimeout time.Duration
	written        bytes.Buffer
	reader         *strings.Reader
}

func (s *fakeSocket) Connect(_ context.Context, timeout time.Duration) error {
	s.ops = append(s.ops, "connect")
	s.connectTimeout = timeout

	if s.connectErr != nil {
		return s.connectErr
	}

	s.connected = true
	s.reader = strings.NewReader(s.response)

	return nil
}

func (s *fakeSocket) SetTimeout(d time.Duration) {
	s.ops = append(s.ops, "timeout")
	s.timeout = d
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	if !s.connected {
		return 0, ErrNotConnected
	}

	return s.reader.Read(p)
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	if !s.connected {
		return 0, ErrNotConnected
	}

	if len(s.ops) == 0 || s.ops[len(s.ops)-1] != "write" {
		s.ops = append(s.ops, "write")
	}

	return s.written.Write(p)
}

func (s *fakeSocket) IsConnected() bool {
	return s.connected
}

func (s *fakeSocket) Close() error {
	s.ops = append(s.ops, "close")
	s.connected = false

	return nil
}

func (s *fakeSocket) Addr() string {
	return s.addr
}

// fakeFactory hands out fakeSockets and remembers them by address.
type fakeFactory struct {
	response string
	sockets  map[string]*fakeSocket
	created  []*fakeSocket
}

func newFakeFactory(response string) *fakeFactory {
	return &fakeFactory{
		response: response,
		sockets:  make(map[string]*fakeSocket),
	}
}

func (f *fakeFactory) New(addr string) Socket {
	s := &fakeSocket{addr: addr, response: f.response}
	f.sockets[addr] = s
	f.created = append(f.created, s)

	return s
}

// requestLine returns the first line written to s.
func (s *fakeSocket) requestLine() string {
	line, _, _ := strings.Cut(s.written.String(), "\r\n")
	return line
}
