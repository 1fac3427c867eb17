// Package queue holds the download queue: the ordered set of requested
// downloads and the scheduler that hands them one at a time to the host.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/godlp/godlp/internal/config"
	"github.com/godlp/godlp/internal/utils"
)

// Downloader is the part of the host the queue drives.
type Downloader interface {
	Download(ctx context.Context, locator, format, destination string) error
	CancelActiveDownload(ctx context.Context) error
	PauseActiveDownload(ctx context.Context) error
}

// Observer receives scheduler events, typically for metrics.
type Observer interface {
	Enqueued(deduplicated bool)
	StatusChanged(from, to Status)
	Dispatched(wait time.Duration)
	DispatchFailed()
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for timestamps and throttling.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// dispatch tracks an item that has been selected but not yet handed to the
// host. Closing abort stops it before the host call.
type dispatch struct {
	abort chan struct{}
}

// Manager owns every queue item and the canceling-target marker.
type Manager struct {
	mu sync.Mutex

	items  []*Item // insertion order
	index  map[string]*Item
	active map[string]struct{}

	canceling *CancelingTarget
	ackTimer  *time.Timer
	ackGen    uint64

	dispatches map[string]*dispatch
	// runs holds the dispatch that owns each item's current run. A host
	// call only settles the item while its dispatch is still the owner.
	runs         map[string]*dispatch
	lastDispatch time.Time

	maxConcurrent    int
	minDispatchDelay time.Duration
	cancelAckTimeout time.Duration

	host     Downloader
	now      func() time.Time
	observer Observer

	onDispatchFailed func(Item, error)
	onAckTimeout     func(Item, Intent)

	changes chan struct{}
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a manager that dispatches to host.
func New(host Downloader, cfg config.QueueConfig, opts ...Option) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		index:            make(map[string]*Item),
		active:           make(map[string]struct{}),
		dispatches:       make(map[string]*dispatch),
		runs:             make(map[string]*dispatch),
		maxConcurrent:    cfg.MaxConcurrent,
		minDispatchDelay: cfg.MinDispatchDelay,
		cancelAckTimeout: cfg.CancelAckTimeout,
		host:             host,
		now:              time.Now,
		changes:          make(chan struct{}, 1),
		ctx:              ctx,
		stop:             stop,
	}
	if m.maxConcurrent < 1 {
		m.maxConcurrent = 1
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnDispatchFailed registers fn to run when the host rejects a download
// that was not being cancelled. The item has already been marked failed.
func (m *Manager) OnDispatchFailed(fn func(Item, error)) {
	m.mu.Lock()
	m.onDispatchFailed = fn
	m.mu.Unlock()
}

// OnAckTimeout registers fn to run when a cancel or pause was forced
// because the host never acknowledged it.
func (m *Manager) OnAckTimeout(fn func(Item, Intent)) {
	m.mu.Lock()
	m.onAckTimeout = fn
	m.mu.Unlock()
}

// Changes signals after any mutation. Signals coalesce.
func (m *Manager) Changes() <-chan struct{} {
	return m.changes
}

func (m *Manager) notify() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// Close stops pending dispatches and waits for in-flight host calls to
// return.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stop()
	if m.ackTimer != nil {
		m.ackTimer.Stop()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Enqueue adds a download. If a non-terminal item already has the same
// locator, that item is returned unchanged.
func (m *Manager) Enqueue(req Request) Item {
	m.mu.Lock()
	defer func() {
		m.mu.Unlock()
		m.notify()
	}()

	for _, it := range m.items {
		if it.Locator == req.Locator && !it.Status.IsTerminal() {
			if m.observer != nil {
				m.observer.Enqueued(true)
			}
			return it.clone()
		}
	}

	prio := req.Priority
	if prio == "" {
		prio = PriorityNormal
	}
	it := &Item{
		ID:          "dl_" + uuid.New().String(),
		Locator:     req.Locator,
		Format:      req.Format,
		Destination: req.Destination,
		Title:       req.Title,
		Status:      StatusPending,
		Priority:    prio,
		AddedAt:     m.now(),
	}
	m.items = append(m.items, it)
	m.index[it.ID] = it
	if m.observer != nil {
		m.observer.Enqueued(false)
	}
	utils.Debug("Queue: added %s (%s, %s)", it.ID, it.Locator, it.Priority)

	out := it.clone()
	m.processLocked()
	return out
}

// ListAll returns a copy of every item in insertion order.
func (m *Manager) ListAll() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it.clone())
	}
	return out
}

// ListActive returns the items currently holding a concurrency slot.
func (m *Manager) ListActive() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Item
	for _, it := range m.items {
		if _, ok := m.active[it.ID]; ok {
			out = append(out, it.clone())
		}
	}
	return out
}

// Get returns a copy of the item with the given id.
func (m *Manager) Get(id string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.index[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it.clone(), nil
}

// UpdateProgress applies the non-nil fields of u. Unknown ids are ignored.
func (m *Manager) UpdateProgress(id string, u ProgressUpdate) {
	m.mu.Lock()
	it, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if u.Percent != nil {
		p := *u.Percent
		if p < 0 {
			p = 0
		} else if p > 100 {
			p = 100
		}
		it.Progress = p
	}
	if u.Speed != nil {
		it.Speed = *u.Speed
	}
	if u.Size != nil {
		it.Size = *u.Size
	}
	if u.ETA != nil {
		it.ETA = *u.ETA
	}
	m.mu.Unlock()
	m.notify()
}

// SetStatus moves an item to status, applying the slot bookkeeping of the
// target state.
func (m *Manager) SetStatus(id string, status Status) error {
	if !status.valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	m.mu.Lock()
	it, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.setStatusLocked(it, status)
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Manager) setStatusLocked(it *Item, status Status) {
	from := it.Status
	it.Status = status

	reprocess := false
	switch status {
	case StatusInProgress:
		it.CompletedAt = nil
		m.active[it.ID] = struct{}{}
	case StatusPending:
		it.CompletedAt = nil
		delete(m.active, it.ID)
		m.abortLocked(it.ID)
		reprocess = true
	default:
		now := m.now()
		it.CompletedAt = &now
		delete(m.active, it.ID)
		m.abortLocked(it.ID)
		reprocess = true
	}

	if m.observer != nil && from != status {
		m.observer.StatusChanged(from, status)
	}
	utils.Debug("Queue: %s %s -> %s", it.ID, from, status)

	if reprocess {
		m.processLocked()
	}
}

// Resume moves a paused item back to pending.
func (m *Manager) Resume(id string) error {
	m.mu.Lock()
	it, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if it.Status != StatusPaused {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot resume %s item", ErrInvalidTransition, it.Status)
	}
	it.Progress = 0
	it.Speed, it.Size, it.ETA = "", "", ""
	it.Unconfirmed = false
	m.setStatusLocked(it, StatusPending)
	m.mu.Unlock()
	m.notify()
	return nil
}

// Cancel removes a waiting item, or asks the host to abort a running one.
// For a running item the status stays in-progress until the host's
// cancelled event is reconciled.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.interrupt(ctx, id, IntentCancel)
}

// Pause parks a waiting item, or asks the host to pause a running one.
func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.interrupt(ctx, id, IntentPause)
}

func (m *Manager) interrupt(ctx context.Context, id string, intent Intent) error {
	m.mu.Lock()
	it, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	switch it.Status {
	case StatusPending, StatusPaused:
		if intent == IntentCancel {
			m.removeLocked(id)
			m.processLocked()
		} else if it.Status == StatusPending {
			m.setStatusLocked(it, StatusPaused)
		}
		m.mu.Unlock()
		m.notify()
		return nil

	case StatusInProgress:
		if _, waiting := m.dispatches[id]; waiting {
			// Selected but not yet handed to the host: nothing to tell it.
			if intent == IntentCancel {
				m.removeLocked(id)
				m.processLocked()
			} else {
				m.setStatusLocked(it, StatusPaused)
			}
			m.mu.Unlock()
			m.notify()
			return nil
		}

	default:
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot %s %s item", ErrInvalidTransition, intent, it.Status)
	}

	// The marker must be in place before the host can answer.
	target := CancelingTarget{ID: id, Intent: intent}
	m.canceling = &target
	m.armAckLocked()
	m.mu.Unlock()
	m.notify()

	utils.Debug("Queue: requesting host %s for %s", intent, id)
	var err error
	if intent == IntentCancel {
		err = m.host.CancelActiveDownload(ctx)
	} else {
		err = m.host.PauseActiveDownload(ctx)
	}
	if err == nil {
		return nil
	}

	m.mu.Lock()
	if m.canceling != nil && *m.canceling == target {
		m.clearCancelingLocked()
	}
	m.mu.Unlock()
	m.notify()
	return fmt.Errorf("host %s failed: %w", intent, err)
}

// ClearCompleted removes completed, failed and cancelled items and returns
// how many were removed.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	kept := m.items[:0]
	removed := 0
	for _, it := range m.items {
		if it.Status.IsTerminal() {
			delete(m.index, it.ID)
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(m.items); i++ {
		m.items[i] = nil
	}
	m.items = kept
	m.mu.Unlock()
	if removed > 0 {
		m.notify()
	}
	return removed
}

// ClearAll empties the queue and the active set. Any outstanding
// canceling marker is left for the reconciler to discard.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	for id, d := range m.dispatches {
		close(d.abort)
		delete(m.dispatches, id)
	}
	m.items = nil
	m.index = make(map[string]*Item)
	m.active = make(map[string]struct{})
	m.runs = make(map[string]*dispatch)
	m.mu.Unlock()
	m.notify()
}

// CancelingTarget returns the outstanding cancel or pause request, if any.
func (m *Manager) CancelingTarget() (CancelingTarget, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.canceling == nil {
		return CancelingTarget{}, false
	}
	return *m.canceling, true
}

// ClearCancelingTarget drops the marker and its acknowledgement timer.
func (m *Manager) ClearCancelingTarget() {
	m.mu.Lock()
	m.clearCancelingLocked()
	m.mu.Unlock()
}

func (m *Manager) clearCancelingLocked() {
	m.canceling = nil
	m.ackGen++
	if m.ackTimer != nil {
		m.ackTimer.Stop()
		m.ackTimer = nil
	}
}

// Attribute resolves which queue item a host event belongs to: the
// canceling target if it still holds a slot, otherwise the active item.
// A marker whose item no longer holds a slot is stale and is cleared.
func (m *Manager) Attribute() (Attribution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.canceling != nil {
		target := *m.canceling
		if _, ok := m.active[target.ID]; ok {
			return Attribution{Item: m.index[target.ID].clone(), Intent: target.Intent}, true
		}
		slog.Warn("Discarding stale canceling marker", "id", target.ID, "intent", target.Intent)
		m.clearCancelingLocked()
	}

	for _, it := range m.items {
		if _, ok := m.active[it.ID]; ok {
			return Attribution{Item: it.clone()}, true
		}
	}
	return Attribution{}, false
}

// SetMaxConcurrent changes the number of slots and fills any new ones.
func (m *Manager) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	m.mu.Lock()
	m.maxConcurrent = n
	m.processLocked()
	m.mu.Unlock()
	m.notify()
}

// SetMinDispatchDelay changes the minimum time between two host dispatches.
func (m *Manager) SetMinDispatchDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	m.minDispatchDelay = d
	m.mu.Unlock()
}

func (m *Manager) removeLocked(id string) {
	m.abortLocked(id)
	delete(m.active, id)
	delete(m.index, id)
	for i, it := range m.items {
		if it.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	utils.Debug("Queue: removed %s", id)
}

func (m *Manager) abortLocked(id string) {
	if d, ok := m.dispatches[id]; ok {
		close(d.abort)
		delete(m.dispatches, id)
	}
}

// processLocked fills free slots with the highest priority pending items,
// oldest first within a priority.
func (m *Manager) processLocked() {
	if m.ctx.Err() != nil {
		return
	}
	slots := m.maxConcurrent - len(m.active)
	if slots <= 0 {
		return
	}

	var pending []*Item
	for _, it := range m.items {
		if it.Status == StatusPending {
			pending = append(pending, it)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		ri, rj := pending[i].Priority.rank(), pending[j].Priority.rank()
		if ri != rj {
			return ri > rj
		}
		return pending[i].AddedAt.Before(pending[j].AddedAt)
	})

	for i := 0; i < len(pending) && i < slots; i++ {
		it := pending[i]
		it.Progress = 0
		it.Speed, it.Size, it.ETA = "", "", ""
		it.Unconfirmed = false
		m.setStatusLocked(it, StatusInProgress)

		d := &dispatch{abort: make(chan struct{})}
		m.dispatches[it.ID] = d
		m.runs[it.ID] = d
		m.wg.Add(1)
		go m.dispatch(it.ID, d)
	}
}

// armAckLocked starts the acknowledgement timer for the current marker.
func (m *Manager) armAckLocked() {
	m.ackGen++
	if m.ackTimer != nil {
		m.ackTimer.Stop()
		m.ackTimer = nil
	}
	if m.cancelAckTimeout <= 0 {
		return
	}
	gen := m.ackGen
	m.ackTimer = time.AfterFunc(m.cancelAckTimeout, func() { m.ackExpired(gen) })
}

func (m *Manager) ackExpired(gen uint64) {
	m.mu.Lock()
	if gen != m.ackGen || m.canceling == nil {
		m.mu.Unlock()
		return
	}
	target := *m.canceling
	m.canceling = nil
	m.ackTimer = nil

	it, ok := m.index[target.ID]
	if !ok || it.Status != StatusInProgress {
		m.mu.Unlock()
		return
	}

	to := StatusCancelled
	if target.Intent == IntentPause {
		to = StatusPaused
	}
	it.Unconfirmed = true
	it.Speed, it.ETA = "", ""
	m.setStatusLocked(it, to)
	snap := it.clone()
	fn := m.onAckTimeout
	m.mu.Unlock()
	m.notify()

	slog.Warn("Host did not acknowledge request, forcing local state",
		"id", target.ID, "intent", target.Intent, "status", to)
	if fn != nil {
		fn(snap, target.Intent)
	}
}
