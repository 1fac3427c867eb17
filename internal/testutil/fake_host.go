package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/godlp/godlp/internal/host"
)

// Call is one recorded RPC on a FakeHost.
type Call struct {
	Method string
	Args   []string
}

// FakeHost is an in-memory host. Calls are recorded; events are published
// through the embedded Bus.
type FakeHost struct {
	*host.Bus

	mu    sync.Mutex
	calls []Call

	// DownloadFunc, when set, replaces the default Download behaviour of
	// returning DownloadErr.
	DownloadFunc func(ctx context.Context, locator, format, destination string) error
	DownloadErr  error
	CancelErr    error
	PauseErr     error
	ConvertErr   error

	// AckCancel makes CancelActiveDownload and PauseActiveDownload publish
	// download-cancelled, as a real host does.
	AckCancel bool

	ResolvedPath  string
	ResolvedErr   error
	AnalyzeResult json.RawMessage
	// PlaylistResult, when set, is returned by AnalyzePlaylist instead of
	// AnalyzeResult.
	PlaylistResult json.RawMessage

	settings  host.Settings
	downloads chan string
}

// NewFakeHost returns a host that accepts every call.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		Bus:           host.NewBus(),
		AnalyzeResult: json.RawMessage(`{"title":"Fake"}`),
		downloads:     make(chan string, 64),
	}
}

func (f *FakeHost) record(method string, args ...string) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
	f.mu.Unlock()
}

// Calls returns a copy of every recorded call.
func (f *FakeHost) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount counts calls to method.
func (f *FakeHost) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// WaitDownload returns the locator of the next Download call, failing the
// test if none arrives within timeout.
func (f *FakeHost) WaitDownload(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case loc := <-f.downloads:
		return loc
	case <-time.After(timeout):
		t.Fatalf("no download dispatched within %v", timeout)
		return ""
	}
}

// NoDownload fails the test if a Download call arrives within d.
func (f *FakeHost) NoDownload(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case loc := <-f.downloads:
		t.Fatalf("unexpected download of %s", loc)
	case <-time.After(d):
	}
}

// Emit publishes a host event, failing the test on encoding errors.
func (f *FakeHost) Emit(t *testing.T, name string, payload any) {
	t.Helper()
	if err := f.Publish(name, payload); err != nil {
		t.Fatalf("publish %s: %v", name, err)
	}
}

func (f *FakeHost) Analyze(ctx context.Context, locator string) (json.RawMessage, error) {
	f.record("Analyze", locator)
	return f.AnalyzeResult, nil
}

func (f *FakeHost) AnalyzePlaylist(ctx context.Context, locator string) (json.RawMessage, error) {
	f.record("AnalyzePlaylist", locator)
	if f.PlaylistResult != nil {
		return f.PlaylistResult, nil
	}
	return f.AnalyzeResult, nil
}

func (f *FakeHost) Download(ctx context.Context, locator, format, destination string) error {
	f.record("Download", locator, format, destination)
	select {
	case f.downloads <- locator:
	default:
	}
	if f.DownloadFunc != nil {
		return f.DownloadFunc(ctx, locator, format, destination)
	}
	return f.DownloadErr
}

func (f *FakeHost) CancelActiveDownload(ctx context.Context) error {
	f.record("CancelActiveDownload")
	if f.CancelErr != nil {
		return f.CancelErr
	}
	if f.AckCancel {
		go func() { _ = f.Publish(host.EventDownloadCancelled, nil) }()
	}
	return nil
}

func (f *FakeHost) PauseActiveDownload(ctx context.Context) error {
	f.record("PauseActiveDownload")
	if f.PauseErr != nil {
		return f.PauseErr
	}
	if f.AckCancel {
		go func() { _ = f.Publish(host.EventDownloadCancelled, nil) }()
	}
	return nil
}

func (f *FakeHost) ResolvedOutputPath(ctx context.Context, titleHint string) (string, error) {
	f.record("ResolvedOutputPath", titleHint)
	return f.ResolvedPath, f.ResolvedErr
}

func (f *FakeHost) Convert(ctx context.Context, sourcePath, targetFormat string) error {
	f.record("Convert", sourcePath, targetFormat)
	return f.ConvertErr
}

func (f *FakeHost) CancelConversion(ctx context.Context) error {
	f.record("CancelConversion")
	return nil
}

func (f *FakeHost) GetSettings(ctx context.Context) (host.Settings, error) {
	f.record("GetSettings")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

func (f *FakeHost) UpdateSettings(ctx context.Context, s host.Settings) error {
	f.record("UpdateSettings")
	f.mu.Lock()
	f.settings = s
	f.mu.Unlock()
	return nil
}

var _ host.Host = (*FakeHost)(nil)
var _ host.EventSource = (*FakeHost)(nil)
