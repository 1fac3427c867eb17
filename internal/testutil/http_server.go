package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ListenT binds an IPv4 loopback port, skipping the test where sandboxes
// refuse listeners.
func ListenT(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp4 listener unavailable: %v", err)
	}
	return ln
}

// NewHTTPServerT serves handler on a ListenT listener. The server is closed
// with the test.
func NewHTTPServerT(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := &httptest.Server{
		Listener: ListenT(t),
		Config:   &http.Server{Handler: handler},
	}
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
