// Package api serves the local HTTP API through which a UI observes the
// queue and issues actions. Queue snapshots are pushed over a websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/godlp/godlp/internal/history"
	"github.com/godlp/godlp/internal/host"
	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/reconcile"
	"github.com/godlp/godlp/internal/utils"
)

// Queue is the part of the queue manager the API exposes.
type Queue interface {
	Enqueue(req queue.Request) queue.Item
	ListAll() []queue.Item
	Get(id string) (queue.Item, error)
	Cancel(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(id string) error
	ClearCompleted() int
	ClearAll()
}

// Cache is the pending-downloads snapshot, cleared by the "clear cache"
// action.
type Cache interface {
	Clear() error
}

// Deps are the components the API serves.
type Deps struct {
	Queue   Queue
	History history.Store
	Session *reconcile.Reconciler
	Host    host.Host
	Cache   Cache
	Feed    *reconcile.Feed
}

type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every route but
// /health.
func WithToken(token string) Option {
	return func(s *Server) { s.token = strings.TrimSpace(token) }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithDefaultDir is where downloads without an output path are written.
func WithDefaultDir(dir string) Option {
	return func(s *Server) { s.defaultDir = dir }
}

// WithDefaultPriority applies to submissions without a priority.
func WithDefaultPriority(p queue.Priority) Option {
	return func(s *Server) { s.defaultPriority = p }
}

type Server struct {
	deps            Deps
	hub             *Hub
	token           string
	metrics         http.Handler
	defaultDir      string
	defaultPriority queue.Priority
}

// Snapshot is the message pushed to websocket clients on every change.
type Snapshot struct {
	Type       string                    `json:"type"`
	Queue      []queue.Item              `json:"queue"`
	Direct     reconcile.DirectState     `json:"direct"`
	Conversion reconcile.ConversionState `json:"conversion"`
	Setup      reconcile.SetupState      `json:"setup"`
}

func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:            deps,
		hub:             NewHub(),
		defaultPriority: queue.PriorityNormal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Snapshot captures the current queue and session state.
func (s *Server) Snapshot() Snapshot {
	snap := Snapshot{Type: "snapshot", Queue: s.deps.Queue.ListAll()}
	if s.deps.Session != nil {
		snap.Direct = s.deps.Session.Direct()
		snap.Conversion = s.deps.Session.Conversion()
		snap.Setup = s.deps.Session.Setup()
	}
	return snap
}

// Publish pushes the current snapshot to websocket clients.
func (s *Server) Publish() {
	s.hub.Broadcast(s.Snapshot())
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/queue", s.listQueue)
		r.Post("/queue", s.addToQueue)
		r.Post("/queue/playlist", s.addPlaylist)
		r.Delete("/queue", s.clearQueue)
		r.Delete("/queue/completed", s.clearCompleted)
		r.Get("/queue/{id}", s.getQueueItem)
		r.Post("/queue/{id}/cancel", s.cancelItem)
		r.Post("/queue/{id}/pause", s.pauseItem)
		r.Post("/queue/{id}/resume", s.resumeItem)

		r.Get("/history", s.listHistory)
		r.Get("/history/recent", s.recentHistory)
		r.Get("/history/{id}", s.getHistory)
		r.Delete("/history/{id}", s.deleteHistory)
		r.Delete("/history", s.clearHistory)

		r.Get("/analyze", s.analyze)
		r.Get("/analyze/playlist", s.analyzePlaylist)

		r.Get("/direct", s.getDirect)
		r.Post("/direct", s.startDirect)
		r.Post("/direct/cancel", s.cancelDirect)
		r.Delete("/direct", s.leaveDirect)

		r.Get("/convert", s.getConversion)
		r.Post("/convert", s.startConversion)
		r.Post("/convert/cancel", s.cancelConversion)

		r.Get("/setup", s.getSetup)
		r.Get("/notifications", s.notifications)

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)

		r.Delete("/cache", s.clearCache)

		r.Get("/ws", s.hub.WsHandler)
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.token {
			// Browsers cannot set headers on websocket upgrades.
			if r.URL.Query().Get("token") != s.token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.ListAll())
}

// AddRequest is the body of POST /queue.
type AddRequest struct {
	URL        string `json:"url"`
	FormatID   string `json:"formatID"`
	OutputPath string `json:"outputPath"`
	Title      string `json:"title"`
	Priority   string `json:"priority,omitempty"`
}

func (s *Server) addToQueue(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	locator, err := utils.ValidateLocator(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prio := s.defaultPriority
	if req.Priority != "" {
		p, err := queue.ParsePriority(req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		prio = p
	}

	dest := req.OutputPath
	if dest == "" {
		title := req.Title
		if title == "" {
			title = "%(title)s"
		}
		dest = utils.DestinationPath(s.defaultDir, title)
	}

	item := s.deps.Queue.Enqueue(queue.Request{
		Locator:     locator,
		Format:      req.FormatID,
		Destination: dest,
		Title:       req.Title,
		Priority:    prio,
	})
	s.Publish()
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) getQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) cancelItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Queue.Cancel(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	s.Publish()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "id": id})
}

func (s *Server) pauseItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Queue.Pause(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	s.Publish()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pausing", "id": id})
}

func (s *Server) resumeItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Queue.Resume(id); err != nil {
		writeErr(w, err)
		return
	}
	s.Publish()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed", "id": id})
}

func (s *Server) clearCompleted(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Queue.ClearCompleted()
	s.Publish()
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	s.deps.Queue.ClearAll()
	s.Publish()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	var (
		items []history.Item
		err   error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		st := history.Status(status)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+status)
			return
		}
		items, err = s.deps.History.GetByStatus(st)
	} else {
		items, err = s.deps.History.GetAll()
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].DateAdded.After(items[j].DateAdded)
	})
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) recentHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	items, err := s.deps.History.GetRecent(limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.History.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.History.Delete(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.History.Clear(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Host.GetSettings(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var settings host.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.deps.Host.UpdateSettings(r.Context(), settings); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Cache.Clear(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) notifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		writeJSON(w, http.StatusOK, []reconcile.Notification{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Feed.Recent())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	var rpcErr *host.RPCError
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrInvalidTransition), errors.Is(err, reconcile.ErrBusy), errors.Is(err, reconcile.ErrIdle):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &rpcErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("API request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
