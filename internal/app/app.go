// Package app builds every component once and threads them together: the
// queue, the host bridge, persistence, the event reconciler and the API.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/godlp/godlp/internal/api"
	"github.com/godlp/godlp/internal/config"
	"github.com/godlp/godlp/internal/history"
	"github.com/godlp/godlp/internal/host"
	"github.com/godlp/godlp/internal/metrics"
	"github.com/godlp/godlp/internal/pending"
	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/reconcile"
	"github.com/godlp/godlp/internal/store"
	"github.com/godlp/godlp/internal/utils"
)

// Backend is a host that also streams its events.
type Backend interface {
	host.Host
	host.EventSource
}

type Option func(*options)

type options struct {
	backend  Backend
	registry *prometheus.Registry
	inMemory bool
	apiToken string
	dbPath   string
}

// WithBackend replaces the remote host built from the settings.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithRegistry registers the metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// InMemory keeps history and the pending snapshot in memory only.
func InMemory() Option {
	return func(o *options) { o.inMemory = true }
}

// WithAPIToken protects the local API with a bearer token.
func WithAPIToken(token string) Option {
	return func(o *options) { o.apiToken = token }
}

// WithDBPath overrides the database location.
func WithDBPath(path string) Option {
	return func(o *options) { o.dbPath = path }
}

// App is one running instance.
type App struct {
	Settings *config.Settings
	Backend  Backend
	Queue    *queue.Manager
	History  history.Store
	Pending  *pending.Snapshot
	Session  *reconcile.Reconciler
	Feed     *reconcile.Feed
	Metrics  *metrics.Collector
	API      *api.Server

	registry *prometheus.Registry
	db       *sql.DB

	mu        sync.Mutex
	listeners []chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New wires the components for s. Nothing runs until Start.
func New(s *config.Settings, opts ...Option) (*App, error) {
	o := options{dbPath: config.GetDBPath()}
	for _, opt := range opts {
		opt(&o)
	}
	if s == nil {
		s = config.DefaultSettings()
	}

	a := &App{Settings: s, Backend: o.backend, registry: o.registry}
	if a.Backend == nil {
		a.Backend = host.NewRemoteHost(s.Host.BaseURL, s.Host.Token, s.Host.RequestTimeout)
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}

	kv, hist := a.openStorage(o)
	a.History = hist

	a.Metrics = metrics.New("godlp", a.registry)
	a.Queue = queue.New(a.Backend, s.ToQueueConfig(), queue.WithObserver(a.Metrics))
	a.Pending = pending.New(kv, a.Queue)
	a.Feed = reconcile.NewFeed(0)
	a.Session = reconcile.New(a.Queue, a.History, a.Pending, a.Backend, a.Backend,
		reconcile.WithNotifier(a.Feed),
		reconcile.WithObserver(a.Metrics),
		reconcile.WithCallTimeout(s.Host.RequestTimeout),
	)

	priority, err := queue.ParsePriority(s.Queue.DefaultPriority)
	if err != nil {
		priority = queue.PriorityNormal
	}
	a.API = api.New(api.Deps{
		Queue:   a.Queue,
		History: a.History,
		Session: a.Session,
		Host:    a.Backend,
		Cache:   a.Pending,
		Feed:    a.Feed,
	},
		api.WithToken(o.apiToken),
		api.WithMetrics(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})),
		api.WithDefaultDir(s.General.DefaultDownloadDir),
		api.WithDefaultPriority(priority),
	)
	return a, nil
}

// openStorage opens the SQLite database. When it cannot be opened the app
// still runs, with history and the snapshot kept in memory.
func (a *App) openStorage(o options) (store.KV, history.Store) {
	if !o.inMemory {
		db, err := store.Open(o.dbPath)
		if err == nil {
			a.db = db
			return store.NewSQLKV(db), history.NewSQLStore(db)
		}
		slog.Warn("Falling back to in-memory storage", "path", o.dbPath, "error", err)
	}
	return store.NewMemoryKV(), history.NewMemoryStore()
}

// Registry is the metrics registry served at /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Start resumes the saved queue (or discards it when auto-resume is off),
// subscribes to host events and starts the background loops.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.Session.Start(ctx); err != nil {
		cancel()
		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
		return fmt.Errorf("start event reconciler: %w", err)
	}

	if a.Settings.General.AutoResume {
		if n := a.Pending.ResumeAll(); n > 0 {
			slog.Info("Resumed unfinished downloads", "count", n)
		}
	} else if entries := a.Pending.Restore(); len(entries) > 0 {
		slog.Info("Auto-resume disabled, discarding unfinished downloads", "count", len(entries))
		if err := a.Pending.Clear(); err != nil {
			slog.Warn("Failed to clear pending downloads", "error", err)
		}
	}

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.Pending.Run(ctx, a.Settings.Queue.SnapshotInterval)
	}()
	go func() {
		defer a.wg.Done()
		a.API.Hub().Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.watch(ctx)
	}()

	a.publish()
	utils.Debug("App: started (max concurrent %d, dispatch delay %v)",
		a.Settings.Queue.MaxConcurrentDownloads, a.Settings.Queue.MinDispatchDelay)
	return nil
}

// Subscribe returns a channel signalled after every queue or session
// change. Signals are coalesced.
func (a *App) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	a.mu.Lock()
	a.listeners = append(a.listeners, ch)
	a.mu.Unlock()
	return ch
}

// watch is the only consumer of the queue and session change channels.
func (a *App) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.Queue.Changes():
		case <-a.Session.Changes():
		}
		a.publish()
	}
}

func (a *App) publish() {
	a.Metrics.ObserveQueue(a.Queue.ListAll())
	a.API.Publish()

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Serve runs the API on ln until ctx ends.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{Handler: a.API.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server forced to shutdown", "error", err)
	}
	<-errCh
	return nil
}

// Close stops the loops, saves the snapshot a last time and closes the
// database.
func (a *App) Close() error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	a.Session.Stop()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	a.Queue.Close()

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	return nil
}
