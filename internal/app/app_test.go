package app

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godlp/godlp/internal/config"
	"github.com/godlp/godlp/internal/history"
	"github.com/godlp/godlp/internal/host"
	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/testutil"
)

func testSettings() *config.Settings {
	s := config.DefaultSettings()
	s.Queue.MinDispatchDelay = 0
	s.Queue.SnapshotInterval = 20 * time.Millisecond
	s.Host.RequestTimeout = time.Second
	s.General.DefaultDownloadDir = "/downloads"
	return s
}

func startApp(t *testing.T, s *config.Settings, opts ...Option) (*App, *testutil.FakeHost) {
	t.Helper()
	fake := testutil.NewFakeHost()
	a, err := New(s, append([]Option{WithBackend(fake)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a, fake
}

func TestApp_DownloadLifecycle(t *testing.T) {
	a, fake := startApp(t, testSettings(), InMemory())
	fake.ResolvedPath = "/downloads/clip.mp4"

	it := a.Queue.Enqueue(queue.Request{Locator: "https://example.com/v/1", Title: "Clip", Destination: "/downloads/Clip.%(ext)s"})
	assert.Equal(t, "https://example.com/v/1", fake.WaitDownload(t, time.Second))

	fake.Emit(t, host.EventDownloadProgress, map[string]any{"percent": 50, "speed": "1.00MiB/s"})
	fake.Emit(t, host.EventDownloadComplete, nil)

	require.Eventually(t, func() bool {
		got, err := a.Queue.Get(it.ID)
		return err == nil && got.Status == queue.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		items, err := a.History.GetByStatus(history.StatusCompleted)
		return err == nil && len(items) == 1
	}, 2*time.Second, 10*time.Millisecond)

	n, ok := a.Feed.Last()
	require.True(t, ok)
	assert.Equal(t, "Download completed: Clip", n.Message)
}

func TestApp_SubscribeSignalsChanges(t *testing.T) {
	a, _ := startApp(t, testSettings(), InMemory())
	ch := a.Subscribe()

	a.Queue.Enqueue(queue.Request{Locator: "https://example.com/v/2"})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}
}

func TestApp_StartTwice(t *testing.T) {
	a, _ := startApp(t, testSettings(), InMemory())
	assert.Error(t, a.Start(context.Background()))
}

func TestApp_ResumesSavedQueue(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state", "godlp.db")
	s := testSettings()

	first, err := New(s, WithBackend(testutil.NewFakeHost()), WithDBPath(dbPath))
	require.NoError(t, err)
	first.Queue.Enqueue(queue.Request{Locator: "https://example.com/v/3", Priority: queue.PriorityHigh})
	require.NoError(t, first.Pending.Save())
	require.NoError(t, first.Close())

	second, fake := startApp(t, s, WithDBPath(dbPath))
	assert.Equal(t, "https://example.com/v/3", fake.WaitDownload(t, time.Second))

	items := second.Queue.ListAll()
	require.Len(t, items, 1)
	assert.Equal(t, queue.PriorityHigh, items[0].Priority)
}

func TestApp_AutoResumeDisabledDiscardsSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "godlp.db")
	s := testSettings()

	first, err := New(s, WithBackend(testutil.NewFakeHost()), WithDBPath(dbPath))
	require.NoError(t, err)
	first.Queue.Enqueue(queue.Request{Locator: "https://example.com/v/4"})
	require.NoError(t, first.Pending.Save())
	require.NoError(t, first.Close())

	s.General.AutoResume = false
	second, fake := startApp(t, s, WithDBPath(dbPath))
	fake.NoDownload(t, 100*time.Millisecond)
	assert.Empty(t, second.Queue.ListAll())
	assert.Empty(t, second.Pending.Restore())
}

func TestApp_FallsBackToMemoryStorage(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	a, err := New(testSettings(), WithBackend(testutil.NewFakeHost()), WithDBPath(filepath.Join(blocker, "godlp.db")))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	assert.IsType(t, &history.MemoryStore{}, a.History)
}

func TestApp_ServeAPI(t *testing.T) {
	a, _ := startApp(t, testSettings(), InMemory(), WithAPIToken("secret"))

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp listener unavailable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- a.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/queue")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, base+"/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Serve did not return")
	}
}
