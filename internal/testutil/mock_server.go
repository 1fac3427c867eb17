// Package testutil provides test doubles for the host backend.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/godlp/godlp/internal/host"
)

// RPCCall is one request received by a MockHostServer.
type RPCCall struct {
	Method string
	Body   map[string]any
	Auth   string
}

// MockHostServer speaks the host HTTP protocol: POST /rpc/{method} and an
// SSE stream at /events.
type MockHostServer struct {
	Server *httptest.Server

	// Configuration
	Token            string        // Required bearer token ("" = none)
	Latency          time.Duration // Artificial latency per RPC
	FailOnNthRequest int           // Fail the Nth RPC (0 = don't fail)
	FailStatus       int           // Status used for failures
	RetryAfter       string        // Retry-After value sent with failures

	// Tracking
	RequestCount atomic.Int64
	SSEConnects  atomic.Int64

	mu      sync.Mutex
	calls   []RPCCall
	results map[string]any
	clients map[chan host.Event]struct{}
}

// MockHostOption configures a MockHostServer.
type MockHostOption func(*MockHostServer)

// WithToken requires a bearer token on every request.
func WithToken(token string) MockHostOption {
	return func(m *MockHostServer) { m.Token = token }
}

// WithLatency adds artificial latency per RPC.
func WithLatency(d time.Duration) MockHostOption {
	return func(m *MockHostServer) { m.Latency = d }
}

// WithFailOnNthRequest makes the Nth RPC fail with status and an optional
// Retry-After header.
func WithFailOnNthRequest(n, status int, retryAfter string) MockHostOption {
	return func(m *MockHostServer) {
		m.FailOnNthRequest = n
		m.FailStatus = status
		m.RetryAfter = retryAfter
	}
}

// WithResult sets the JSON response body of method.
func WithResult(method string, v any) MockHostOption {
	return func(m *MockHostServer) { m.results[method] = v }
}

// NewMockHostServerT starts a mock host and skips the test if binding fails.
func NewMockHostServerT(t *testing.T, opts ...MockHostOption) *MockHostServer {
	t.Helper()
	m := &MockHostServer{
		FailStatus: http.StatusInternalServerError,
		results:    make(map[string]any),
		clients:    make(map[chan host.Event]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	r := chi.NewRouter()
	r.Post("/rpc/{method}", m.handleRPC)
	r.Get("/events", m.handleEvents)

	m.Server = NewHTTPServerT(t, r)
	t.Cleanup(m.Close)
	return m
}

// URL returns the server's URL.
func (m *MockHostServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockHostServer) Close() {
	m.mu.Lock()
	for ch := range m.clients {
		close(ch)
		delete(m.clients, ch)
	}
	m.mu.Unlock()
	if m.Server != nil {
		m.Server.CloseClientConnections()
		m.Server.Close()
	}
}

// Calls returns every RPC received so far.
func (m *MockHostServer) Calls() []RPCCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RPCCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Clients reports how many SSE streams are connected.
func (m *MockHostServer) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Emit sends an event to every connected stream.
func (m *MockHostServer) Emit(ev host.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.clients {
		ch <- ev
	}
}

func (m *MockHostServer) authorized(r *http.Request) bool {
	return m.Token == "" || r.Header.Get("Authorization") == "Bearer "+m.Token
}

func (m *MockHostServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	n := m.RequestCount.Add(1)
	if !m.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	method := chi.URLParam(r, "method")
	call := RPCCall{Method: method, Auth: r.Header.Get("Authorization")}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &call.Body)
	}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	result, hasResult := m.results[method]
	m.mu.Unlock()

	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}

	if m.FailOnNthRequest > 0 && n == int64(m.FailOnNthRequest) {
		if m.RetryAfter != "" {
			w.Header().Set("Retry-After", m.RetryAfter)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.FailStatus)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "simulated failure"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !hasResult {
		_, _ = w.Write([]byte("{}"))
		return
	}
	_ = json.NewEncoder(w).Encode(result)
}

func (m *MockHostServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan host.Event, 16)
	m.mu.Lock()
	m.clients[ch] = struct{}{}
	m.mu.Unlock()
	m.SSEConnects.Add(1)
	defer func() {
		m.mu.Lock()
		if _, ok := m.clients[ch]; ok {
			delete(m.clients, ch)
		}
		m.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected "+strconv.FormatInt(m.SSEConnects.Load(), 10)+"\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "event: %s\n", ev.Name)
			if len(ev.Data) > 0 {
				_, _ = fmt.Fprintf(w, "data: %s\n", ev.Data)
			}
			_, _ = fmt.Fprint(w, "\n")
			flusher.Flush()
		}
	}
}
