package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godlp/godlp/internal/config"
	"github.com/godlp/godlp/internal/history"
	"github.com/godlp/godlp/internal/host"
	"github.com/godlp/godlp/internal/pending"
	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/store"
	"github.com/godlp/godlp/internal/testutil"
)

const waitFor = 2 * time.Second

type countingSnapshot struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSnapshot) Save() error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil
}

func (s *countingSnapshot) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type routeRecorder struct {
	mu     sync.Mutex
	routes map[string]int
}

func (o *routeRecorder) EventHandled(event, route string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.routes == nil {
		o.routes = map[string]int{}
	}
	o.routes[route]++
}

func (o *routeRecorder) Count(route string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.routes[route]
}

type fixture struct {
	host     *testutil.FakeHost
	queue    *queue.Manager
	history  history.Store
	snapshot *countingSnapshot
	feed     *Feed
	routes   *routeRecorder
	rec      *Reconciler
}

func newFixture(t *testing.T, cfg config.QueueConfig) *fixture {
	t.Helper()
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 1
	}
	f := &fixture{
		host:     testutil.NewFakeHost(),
		history:  history.NewMemoryStore(),
		snapshot: &countingSnapshot{},
		feed:     NewFeed(10),
		routes:   &routeRecorder{},
	}
	f.queue = queue.New(f.host, cfg)
	t.Cleanup(f.queue.Close)
	f.rec = New(f.queue, f.history, f.snapshot, f.host, f.host,
		WithNotifier(f.feed), WithObserver(f.routes))
	return f
}

func (f *fixture) handle(t *testing.T, name string, payload any) {
	t.Helper()
	ev, err := host.NewEvent(name, payload)
	require.NoError(t, err)
	f.rec.Handle(context.Background(), ev)
}

// startOne enqueues a locator and waits until the host received it.
func (f *fixture) startOne(t *testing.T, locator string) queue.Item {
	t.Helper()
	it := f.queue.Enqueue(queue.Request{Locator: locator, Format: "best", Title: "Title " + locator, Destination: "/tmp/" + locator + ".%(ext)s"})
	require.Equal(t, locator, f.host.WaitDownload(t, waitFor))
	return it
}

func (f *fixture) status(t *testing.T, id string) queue.Status {
	t.Helper()
	it, err := f.queue.Get(id)
	require.NoError(t, err)
	return it.Status
}

func (f *fixture) historyByStatus(t *testing.T, s history.Status) []history.Item {
	t.Helper()
	items, err := f.history.GetByStatus(s)
	require.NoError(t, err)
	return items
}

func TestQueueComplete_ResolvesPathAndRecordsHistory(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})

	dir := t.TempDir()
	path := filepath.Join(dir, "clip.png")
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	require.NoError(t, os.WriteFile(path, png, 0o644))
	f.host.ResolvedPath = path

	it := f.startOne(t, "L1")
	f.handle(t, host.EventDownloadComplete, nil)

	assert.Equal(t, queue.StatusCompleted, f.status(t, it.ID))
	got, _ := f.queue.Get(it.ID)
	assert.Equal(t, 100.0, got.Progress)

	done := f.historyByStatus(t, history.StatusCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, "L1", done[0].URL)
	assert.Equal(t, path, done[0].OutputPath)
	require.NotNil(t, done[0].FileSize)
	assert.Equal(t, int64(len(png)), *done[0].FileSize)
	assert.Equal(t, "image/png", done[0].FileType)
	assert.NotNil(t, done[0].DownloadedAt)

	assert.Equal(t, 1, f.snapshot.Calls())
	assert.Equal(t, 1, f.host.CallCount("ResolvedOutputPath"))
	last, ok := f.feed.Last()
	require.True(t, ok)
	assert.Equal(t, "success", last.Kind)
}

func TestQueueComplete_FallsBackToRequestedDestination(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	f.host.ResolvedErr = errors.New("no such title")

	it := f.startOne(t, "L1")
	f.handle(t, host.EventDownloadComplete, nil)

	assert.Equal(t, queue.StatusCompleted, f.status(t, it.ID))
	done := f.historyByStatus(t, history.StatusCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, it.Destination, done[0].OutputPath)
	assert.Nil(t, done[0].FileSize)
}

func TestQueueProgress_OnlyPresentFields(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	it := f.startOne(t, "L1")

	f.handle(t, host.EventDownloadProgress, map[string]any{"progress": 10, "speed": "1MiB/s", "eta": "00:10", "size": "10MiB"})
	f.handle(t, host.EventDownloadProgress, 42.5)

	got, err := f.queue.Get(it.ID)
	require.NoError(t, err)
	assert.Equal(t, 42.5, got.Progress)
	assert.Equal(t, "1MiB/s", got.Speed)
	assert.Equal(t, "10MiB", got.Size)
	assert.Equal(t, "00:10", got.ETA)
	assert.Equal(t, 2, f.routes.Count(RouteQueue))
}

func TestQueueError_MarksFailed(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	it := f.startOne(t, "L1")
	f.handle(t, host.EventDownloadProgress, map[string]any{"progress": 30, "speed": "1MiB/s"})

	f.handle(t, host.EventDownloadError, map[string]string{"message": "HTTP 403"})

	got, err := f.queue.Get(it.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Empty(t, got.Speed)
	assert.Len(t, f.historyByStatus(t, history.StatusFailed), 1)
	assert.Equal(t, 1, f.snapshot.Calls())

	last, ok := f.feed.Last()
	require.True(t, ok)
	assert.Equal(t, "Download Error: HTTP 403", last.Message)
}

func TestCancelledEvent_AttributedToCancelingTarget(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	a := f.startOne(t, "A")
	b := f.queue.Enqueue(queue.Request{Locator: "B"})

	require.NoError(t, f.queue.Cancel(context.Background(), a.ID))
	assert.Equal(t, queue.StatusInProgress, f.status(t, a.ID))

	f.handle(t, host.EventDownloadCancelled, nil)

	assert.Equal(t, queue.StatusCancelled, f.status(t, a.ID))
	_, marked := f.queue.CancelingTarget()
	assert.False(t, marked)

	cancelled := f.historyByStatus(t, history.StatusCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "A", cancelled[0].URL)
	assert.Equal(t, 1, f.snapshot.Calls())

	// The freed slot goes to the next pending item.
	assert.Equal(t, "B", f.host.WaitDownload(t, waitFor))
	assert.Equal(t, queue.StatusInProgress, f.status(t, b.ID))
}

func TestCancelledEvent_PauseIntentParksItem(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	a := f.startOne(t, "A")

	require.NoError(t, f.queue.Pause(context.Background(), a.ID))
	f.handle(t, host.EventDownloadCancelled, nil)

	assert.Equal(t, queue.StatusPaused, f.status(t, a.ID))
	_, marked := f.queue.CancelingTarget()
	assert.False(t, marked)
	assert.Empty(t, f.historyByStatus(t, history.StatusCancelled))
	assert.Zero(t, f.snapshot.Calls())

	require.NoError(t, f.queue.Resume(a.ID))
	assert.Equal(t, "A", f.host.WaitDownload(t, waitFor))
}

func TestOrphanedEvent_Dropped(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})

	f.handle(t, host.EventDownloadComplete, nil)
	f.handle(t, host.EventDownloadError, "boom")

	all, err := f.history.GetAll()
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, f.host.CallCount("ResolvedOutputPath"))
	assert.Zero(t, f.snapshot.Calls())
	assert.Equal(t, 2, f.routes.Count(RouteDropped))
}

func TestInvalidEvent_Ignored(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	f.rec.Handle(context.Background(), host.Event{Name: "download-exploded"})
	assert.Equal(t, 1, f.routes.Count(RouteInvalid))
}

func TestDispatchFailure_RecordsFailedHistory(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	f.host.DownloadErr = errors.New("host busy")

	it := f.queue.Enqueue(queue.Request{Locator: "L1"})
	require.Eventually(t, func() bool {
		got, err := f.queue.Get(it.ID)
		return err == nil && got.Status == queue.StatusFailed
	}, waitFor, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(f.historyByStatus(t, history.StatusFailed)) == 1
	}, waitFor, 5*time.Millisecond)
	last, ok := f.feed.Last()
	require.True(t, ok)
	assert.Contains(t, last.Message, "host busy")
}

func TestAckTimeout_RecordsCancelledHistory(t *testing.T) {
	f := newFixture(t, config.QueueConfig{CancelAckTimeout: 50 * time.Millisecond})
	a := f.startOne(t, "A")

	require.NoError(t, f.queue.Cancel(context.Background(), a.ID))

	require.Eventually(t, func() bool {
		return len(f.historyByStatus(t, history.StatusCancelled)) == 1
	}, waitFor, 5*time.Millisecond)
	got, err := f.queue.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, got.Status)
	assert.True(t, got.Unconfirmed)

	// A late echo finds nothing to attribute.
	f.handle(t, host.EventDownloadCancelled, nil)
	assert.Len(t, f.historyByStatus(t, history.StatusCancelled), 1)
}

func TestDirect_TakesPrecedenceOverQueue(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	it := f.startOne(t, "Q1")

	require.NoError(t, f.rec.StartDirect(context.Background(), DirectDownload{Locator: "D1", Title: "Direct", Format: "18"}))
	assert.Equal(t, "D1", f.host.WaitDownload(t, waitFor))

	f.handle(t, host.EventDownloadProgress, map[string]any{"progress": 55, "speed": "2MiB/s"})

	d := f.rec.Direct()
	assert.Equal(t, StepDownload, d.Step)
	assert.Equal(t, 55.0, d.Progress)
	assert.Equal(t, "2MiB/s", d.Speed)
	assert.Equal(t, calculating, d.ETA)

	q, err := f.queue.Get(it.ID)
	require.NoError(t, err)
	assert.Zero(t, q.Progress)
	assert.Equal(t, 1, f.routes.Count(RouteDirect))
}

func TestDirectComplete_Verification(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		err       error
		wantStep  Step
		wantError string
	}{
		{"empty path", "", nil, StepSelection, "Download failed: No file path returned"},
		{"incomplete marker", "Download incomplete - only temporary files found", nil, StepSelection, "Download appears to be incomplete. Please check the download status."},
		{"temporary rpc error", "", errors.New("only temporary files"), StepSelection, "Download appears to be incomplete: only temporary files"},
		{"other rpc error", "", errors.New("permission denied"), StepSelection, "Failed to verify download: permission denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.QueueConfig{})
			f.host.ResolvedPath = tt.path
			f.host.ResolvedErr = tt.err

			require.NoError(t, f.rec.StartDirect(context.Background(), DirectDownload{Locator: "D1", Title: "Direct"}))
			f.handle(t, host.EventDownloadComplete, nil)

			d := f.rec.Direct()
			assert.Equal(t, tt.wantStep, d.Step)
			assert.Equal(t, tt.wantError, d.Error)
			assert.Equal(t, "Complete", d.Size)

			all, err := f.history.GetAll()
			require.NoError(t, err)
			assert.Empty(t, all, "no success record on failed verification")

			last, ok := f.feed.Last()
			require.True(t, ok)
			assert.Equal(t, "error", last.Kind)
		})
	}
}

func TestDirectComplete_Success(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	f.host.ResolvedPath = "/downloads/Direct.webm"
	dur := 212.0

	require.NoError(t, f.rec.StartDirect(context.Background(), DirectDownload{
		Locator: "D1", Title: "Direct", Format: "18", Duration: &dur, Thumbnail: "https://img/1.jpg",
	}))
	f.handle(t, host.EventDownloadComplete, nil)

	d := f.rec.Direct()
	assert.Equal(t, StepCompletion, d.Step)
	assert.Equal(t, "/downloads/Direct.webm", d.OutputPath)
	assert.False(t, d.Active())

	done := f.historyByStatus(t, history.StatusCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, "https://img/1.jpg", done[0].Thumbnail)
	require.NotNil(t, done[0].Duration)
	assert.Equal(t, dur, *done[0].Duration)
	assert.Equal(t, 1, f.snapshot.Calls())

	// Once off the download step, events go back to the queue.
	f.handle(t, host.EventDownloadComplete, nil)
	assert.Equal(t, 1, f.routes.Count(RouteDropped))
}

func TestDirectError_ReturnsToSelection(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	require.NoError(t, f.rec.StartDirect(context.Background(), DirectDownload{Locator: "D1"}))

	f.handle(t, host.EventDownloadError, "Requested format is not available")

	d := f.rec.Direct()
	assert.Equal(t, StepSelection, d.Step)
	assert.Equal(t, "Error", d.Size)
	assert.Len(t, f.historyByStatus(t, history.StatusFailed), 1)
}

func TestDirectCancelled_ReturnsToInput(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	f.host.AckCancel = true
	require.NoError(t, f.rec.Start(context.Background()))
	t.Cleanup(f.rec.Stop)

	require.NoError(t, f.rec.StartDirect(context.Background(), DirectDownload{Locator: "D1"}))
	require.NoError(t, f.rec.CancelDirect(context.Background()))

	require.Eventually(t, func() bool {
		return f.rec.Direct().Step == StepInput
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Cancelled", f.rec.Direct().Size)
	assert.Len(t, f.historyByStatus(t, history.StatusCancelled), 1)
}

func TestDirectRejected_ReturnsToInput(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	f.host.DownloadErr = errors.New("format unavailable")

	require.NoError(t, f.rec.StartDirect(context.Background(), DirectDownload{Locator: "D1"}))
	require.Eventually(t, func() bool {
		return f.rec.Direct().Step == StepInput
	}, waitFor, 5*time.Millisecond)
	assert.Contains(t, f.rec.Direct().Error, "Please try again with a different format.")
}

func TestStartDirect_RejectsSecondSession(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	require.NoError(t, f.rec.StartDirect(context.Background(), DirectDownload{Locator: "D1"}))
	assert.ErrorIs(t, f.rec.StartDirect(context.Background(), DirectDownload{Locator: "D2"}), ErrBusy)

	f.rec.LeaveDirect()
	assert.Equal(t, StepInput, f.rec.Direct().Step)
	assert.ErrorIs(t, f.rec.CancelDirect(context.Background()), ErrIdle)
}

func TestConversionTracking(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})

	require.NoError(t, f.rec.StartConversion(context.Background(), "/in.webm", "mp4"))
	assert.Equal(t, ConversionConverting, f.rec.Conversion().Status)
	assert.ErrorIs(t, f.rec.StartConversion(context.Background(), "/other.webm", "mp4"), ErrBusy)

	f.handle(t, host.EventConversionProgress, 40)
	assert.Equal(t, 40.0, f.rec.Conversion().Percent)

	f.handle(t, host.EventConversionComplete, map[string]string{"targetPath": "/in.mp4"})
	c := f.rec.Conversion()
	assert.Equal(t, ConversionSuccess, c.Status)
	assert.Equal(t, "/in.mp4", c.TargetPath)

	require.NoError(t, f.rec.StartConversion(context.Background(), "/b.webm", "mp3"))
	require.NoError(t, f.rec.CancelConversion(context.Background()))
	f.handle(t, host.EventConversionCancelled, nil)
	assert.Equal(t, ConversionCancelled, f.rec.Conversion().Status)
	assert.Equal(t, 1, f.host.CallCount("CancelConversion"))
}

func TestSetupTracking(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})

	f.handle(t, host.EventSetupStarted, nil)
	assert.True(t, f.rec.Setup().Active)
	assert.Equal(t, StepSetup, f.rec.Direct().Step)

	f.handle(t, host.EventSetupProgress, map[string]any{"percentage": 60})
	assert.Equal(t, 60.0, f.rec.Setup().Percent)

	f.handle(t, host.EventSetupError, "checksum mismatch")
	s := f.rec.Setup()
	assert.False(t, s.Active)
	assert.Equal(t, "checksum mismatch", s.Err)
	assert.Equal(t, StepInput, f.rec.Direct().Step)

	f.handle(t, host.EventSetupStarted, nil)
	f.handle(t, host.EventSetupComplete, nil)
	assert.False(t, f.rec.Setup().Active)
	assert.Empty(t, f.rec.Setup().Err)
	assert.Equal(t, StepInput, f.rec.Direct().Step)
}

func TestStartStop_ConsumesBus(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	require.NoError(t, f.rec.Start(context.Background()))
	assert.Error(t, f.rec.Start(context.Background()))

	it := f.startOne(t, "L1")
	f.host.Emit(t, host.EventDownloadProgress, 12)

	require.Eventually(t, func() bool {
		got, err := f.queue.Get(it.ID)
		return err == nil && got.Progress == 12
	}, waitFor, 5*time.Millisecond)

	f.rec.Stop()
	f.rec.Stop()
	assert.Zero(t, f.host.Subscribers())
}

func TestFeed_KeepsLimit(t *testing.T) {
	feed := NewFeed(2)
	feed.Success("one")
	feed.Error("two")
	feed.Success("three")

	got := feed.Recent()
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Message)
	assert.Equal(t, "three", got[1].Message)

	_, ok := NewFeed(0).Last()
	assert.False(t, ok)
}

func TestTerminalEvent_KeepsOtherPendingInSnapshot(t *testing.T) {
	h := testutil.NewFakeHost()
	q := queue.New(h, config.QueueConfig{MaxConcurrent: 1})
	t.Cleanup(q.Close)
	snap := pending.New(store.NewMemoryKV(), q)
	rec := New(q, history.NewMemoryStore(), snap, h, h)

	running := q.Enqueue(queue.Request{Locator: "L1"})
	require.Equal(t, "L1", h.WaitDownload(t, waitFor))
	q.Enqueue(queue.Request{Locator: "L2"})
	require.NoError(t, snap.Save())

	ev, err := host.NewEvent(host.EventDownloadComplete, nil)
	require.NoError(t, err)
	rec.Handle(context.Background(), ev)

	got, err := q.Get(running.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, got.Status)

	var locators []string
	for _, it := range snap.Restore() {
		locators = append(locators, it.Locator)
	}
	assert.Equal(t, []string{"L2"}, locators)

	// The last terminal event leaves nothing to resume.
	require.Equal(t, "L2", h.WaitDownload(t, waitFor))
	rec.Handle(context.Background(), ev)
	assert.Empty(t, snap.Restore())
}
