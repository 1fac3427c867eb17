// Package reconcile applies host lifecycle events to local state.
//
// The host only ever reports "the current operation" made progress or
// finished. The reconciler decides which logical download that was (the
// direct session, the queue's canceling target, or the queue's active
// item), then updates the queue, writes history and rewrites the pending
// snapshot without the finished download.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/h2non/filetype"

	"github.com/godlp/godlp/internal/history"
	"github.com/godlp/godlp/internal/host"
	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/utils"
)

var (
	// ErrBusy is returned when a direct download or conversion is already
	// running.
	ErrBusy = errors.New("operation already running")
	// ErrIdle is returned when there is nothing to cancel.
	ErrIdle = errors.New("nothing running")
)

// Queue is the part of the queue manager the reconciler drives.
type Queue interface {
	Attribute() (queue.Attribution, bool)
	UpdateProgress(id string, u queue.ProgressUpdate)
	SetStatus(id string, status queue.Status) error
	ClearCancelingTarget()
	OnDispatchFailed(fn func(queue.Item, error))
	OnAckTimeout(fn func(queue.Item, queue.Intent))
}

// SnapshotSaver rewrites the pending-downloads snapshot from the queue.
type SnapshotSaver interface {
	Save() error
}

// Observer counts handled events, typically for metrics.
type Observer interface {
	EventHandled(event, route string)
}

// Event routes reported to the Observer.
const (
	RouteQueue   = "queue"
	RouteDirect  = "direct"
	RouteSetup   = "setup"
	RouteConvert = "conversion"
	RouteDropped = "dropped"
	RouteInvalid = "invalid"
)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithNotifier sets where user-facing messages go.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(r *Reconciler) { r.observer = o }
}

// WithClock overrides the time source for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithCallTimeout bounds host calls made while handling an event.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.callTimeout = d }
}

// Reconciler consumes host events. Events are handled one at a time in
// arrival order.
type Reconciler struct {
	queue    Queue
	history  history.Store
	snapshot SnapshotSaver
	host     host.Host
	source   host.EventSource

	notifier    Notifier
	observer    Observer
	now         func() time.Time
	callTimeout time.Duration

	mu         sync.Mutex
	direct     DirectState
	conversion ConversionState
	setup      SetupState

	changes chan struct{}

	runMu  sync.Mutex
	sub    *host.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reconciler. It registers itself for the queue's dispatch
// failure and acknowledgement timeout callbacks.
func New(q Queue, hist history.Store, snap SnapshotSaver, h host.Host, src host.EventSource, opts ...Option) *Reconciler {
	r := &Reconciler{
		queue:       q,
		history:     hist,
		snapshot:    snap,
		host:        h,
		source:      src,
		notifier:    NewFeed(0),
		now:         time.Now,
		callTimeout: 30 * time.Second,
		direct:      DirectState{Step: StepInput},
		conversion:  ConversionState{Status: ConversionIdle},
		changes:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	q.OnDispatchFailed(r.dispatchFailed)
	q.OnAckTimeout(r.ackTimedOut)
	return r
}

// Changes signals after the direct, setup or conversion state changes.
func (r *Reconciler) Changes() <-chan struct{} {
	return r.changes
}

func (r *Reconciler) notifyChange() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

// Start subscribes to the event source and handles events until Stop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.sub != nil {
		return errors.New("reconciler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	sub, err := r.source.Subscribe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to host events: %w", err)
	}
	r.sub = sub
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx, sub, r.done)
	return nil
}

// Stop releases the subscription and waits for the event loop to exit.
func (r *Reconciler) Stop() {
	r.runMu.Lock()
	sub, cancel, done := r.sub, r.cancel, r.done
	r.sub, r.cancel, r.done = nil, nil, nil
	r.runMu.Unlock()

	if sub == nil {
		return
	}
	_ = sub.Close()
	cancel()
	<-done
}

func (r *Reconciler) loop(ctx context.Context, sub *host.Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-sub.Done():
			return
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			r.Handle(ctx, ev)
		}
	}
}

// Handle applies a single raw host event.
func (r *Reconciler) Handle(ctx context.Context, ev host.Event) {
	rec, err := host.Decode(ev)
	if err != nil {
		slog.Warn("Ignoring host event", "event", ev.Name, "error", err)
		r.observe(ev.Name, RouteInvalid)
		return
	}
	utils.Debug("Reconcile: %s", ev.Name)

	switch rec := rec.(type) {
	case host.SetupStarted, host.SetupProgress, host.SetupComplete, host.SetupError:
		r.handleSetup(rec)
		r.observe(ev.Name, RouteSetup)
	case host.ConversionProgress, host.ConversionComplete, host.ConversionError, host.ConversionCancelled:
		r.handleConversion(rec)
		r.observe(ev.Name, RouteConvert)
	default:
		r.observe(ev.Name, r.handleDownload(ctx, rec))
	}
}

func (r *Reconciler) observe(event, route string) {
	if r.observer != nil {
		r.observer.EventHandled(event, route)
	}
}

// handleDownload attributes a download event and returns the route taken.
func (r *Reconciler) handleDownload(ctx context.Context, rec host.Record) string {
	if r.inDirectMode() {
		r.handleDirect(ctx, rec)
		return RouteDirect
	}

	attr, ok := r.queue.Attribute()
	if !ok {
		if _, progress := rec.(host.DownloadProgress); !progress {
			slog.Warn("Dropping host event with no matching download", "event", rec.EventName())
		}
		return RouteDropped
	}

	switch rec := rec.(type) {
	case host.DownloadProgress:
		r.queue.UpdateProgress(attr.Item.ID, queue.ProgressUpdate{
			Percent: &rec.Percent,
			Size:    rec.Size,
			Speed:   rec.Speed,
			ETA:     rec.ETA,
		})
	case host.DownloadComplete:
		r.queueComplete(ctx, attr)
	case host.DownloadError:
		r.queueError(attr, rec.Message)
	case host.DownloadCancelled:
		r.queueCancelled(attr)
	}
	return RouteQueue
}

func (r *Reconciler) queueComplete(ctx context.Context, attr queue.Attribution) {
	it := attr.Item
	full := 100.0
	r.queue.UpdateProgress(it.ID, queue.ProgressUpdate{Percent: &full})
	r.setStatus(it.ID, queue.StatusCompleted)
	r.queue.ClearCancelingTarget()

	path := it.Destination
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	resolved, err := r.host.ResolvedOutputPath(callCtx, it.Title)
	cancel()
	switch {
	case err != nil:
		slog.Warn("Could not resolve output path", "id", it.ID, "error", err)
	case resolved != "":
		path = resolved
	}

	now := r.now()
	rec := history.Item{
		URL:          it.Locator,
		Title:        it.Title,
		FormatID:     it.Format,
		OutputPath:   path,
		Status:       history.StatusCompleted,
		DownloadedAt: &now,
	}
	describeFile(&rec)
	r.addHistory(rec)
	r.refreshSnapshot()
	r.notifier.Success(fmt.Sprintf("Download completed: %s", displayName(it)))
}

func (r *Reconciler) queueError(attr queue.Attribution, msg string) {
	it := attr.Item
	r.setStatus(it.ID, queue.StatusFailed)
	r.clearTelemetry(it.ID)
	if attr.Intent != "" {
		r.queue.ClearCancelingTarget()
	}

	now := r.now()
	r.addHistory(history.Item{
		URL:          it.Locator,
		Title:        it.Title,
		FormatID:     it.Format,
		Status:       history.StatusFailed,
		DownloadedAt: &now,
	})
	r.refreshSnapshot()
	r.notifier.Error(fmt.Sprintf("Download Error: %s", msg))
}

func (r *Reconciler) queueCancelled(attr queue.Attribution) {
	it := attr.Item
	if attr.Intent == queue.IntentPause {
		r.setStatus(it.ID, queue.StatusPaused)
		r.clearTelemetry(it.ID)
		r.queue.ClearCancelingTarget()
		return
	}

	r.setStatus(it.ID, queue.StatusCancelled)
	r.clearTelemetry(it.ID)
	r.queue.ClearCancelingTarget()
	r.recordCancelled(it)
	r.refreshSnapshot()
}

func (r *Reconciler) recordCancelled(it queue.Item) {
	now := r.now()
	r.addHistory(history.Item{
		URL:          it.Locator,
		Title:        it.Title,
		FormatID:     it.Format,
		Status:       history.StatusCancelled,
		DownloadedAt: &now,
	})
}

// dispatchFailed runs when the host rejected a download outright.
func (r *Reconciler) dispatchFailed(it queue.Item, err error) {
	now := r.now()
	r.addHistory(history.Item{
		URL:          it.Locator,
		Title:        it.Title,
		FormatID:     it.Format,
		Status:       history.StatusFailed,
		DownloadedAt: &now,
	})
	r.notifier.Error(fmt.Sprintf("Download failed: %v", err))
}

// ackTimedOut runs when the queue forced a cancel or pause the host never
// confirmed.
func (r *Reconciler) ackTimedOut(it queue.Item, intent queue.Intent) {
	if intent == queue.IntentCancel {
		r.recordCancelled(it)
		r.refreshSnapshot()
	}
	r.notifier.Error(fmt.Sprintf("Host did not confirm %s of %s", intent, displayName(it)))
}

func (r *Reconciler) setStatus(id string, status queue.Status) {
	if err := r.queue.SetStatus(id, status); err != nil {
		slog.Warn("Failed to update queue item", "id", id, "status", status, "error", err)
	}
}

func (r *Reconciler) clearTelemetry(id string) {
	empty := ""
	r.queue.UpdateProgress(id, queue.ProgressUpdate{Speed: &empty, Size: &empty, ETA: &empty})
}

// addHistory is best effort: queue state is authoritative.
func (r *Reconciler) addHistory(item history.Item) {
	if _, err := r.history.Add(item); err != nil {
		slog.Error("Failed to record history", "url", item.URL, "status", item.Status, "error", err)
	}
}

// refreshSnapshot drops a finished download from the pending snapshot. The
// queue status is already terminal, so a save leaves only the items that
// are still resumable.
func (r *Reconciler) refreshSnapshot() {
	if r.snapshot == nil {
		return
	}
	if err := r.snapshot.Save(); err != nil {
		slog.Warn("Failed to refresh pending downloads", "error", err)
	}
}

// describeFile fills in size and type when the file is readable locally.
func describeFile(rec *history.Item) {
	if rec.OutputPath == "" || strings.Contains(rec.OutputPath, utils.OutputTemplateExt) {
		return
	}
	info, err := os.Stat(rec.OutputPath)
	if err != nil || info.IsDir() {
		return
	}
	size := info.Size()
	rec.FileSize = &size

	kind, err := filetype.MatchFile(rec.OutputPath)
	if err == nil && kind != filetype.Unknown {
		rec.FileType = kind.MIME.Value
	}
}

func displayName(it queue.Item) string {
	if it.Title != "" {
		return it.Title
	}
	return it.Locator
}
