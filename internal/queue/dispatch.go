package queue

import (
	"log/slog"
	"time"

	"github.com/godlp/godlp/internal/utils"
)

// reserveLocked books the next dispatch time and returns how long the
// caller must wait for it. Dispatches are spaced by at least
// minDispatchDelay across the whole queue.
func (m *Manager) reserveLocked() time.Duration {
	now := m.now()
	at := now
	if !m.lastDispatch.IsZero() {
		if next := m.lastDispatch.Add(m.minDispatchDelay); next.After(now) {
			at = next
		}
	}
	m.lastDispatch = at
	return at.Sub(now)
}

// dispatch waits out the throttle and hands the item to the host. The item
// is already in-progress; closing d.abort before the host call stops it.
func (m *Manager) dispatch(id string, d *dispatch) {
	defer m.wg.Done()

	m.mu.Lock()
	wait := m.reserveLocked()
	m.mu.Unlock()

	if wait > 0 {
		utils.Debug("Queue: throttling %s for %v", id, wait)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-d.abort:
			timer.Stop()
			m.releaseRun(id, d)
			return
		case <-m.ctx.Done():
			timer.Stop()
			m.releaseRun(id, d)
			return
		}
	}

	m.mu.Lock()
	it, ok := m.index[id]
	if !ok || it.Status != StatusInProgress || m.dispatches[id] != d {
		if m.runs[id] == d {
			delete(m.runs, id)
		}
		m.mu.Unlock()
		return
	}
	delete(m.dispatches, id)
	req := it.Request()
	if m.observer != nil {
		m.observer.Dispatched(wait)
	}
	m.mu.Unlock()
	m.notify()

	utils.Debug("Queue: dispatching %s to host", id)
	err := m.host.Download(m.ctx, req.Locator, req.Format, req.Destination)

	m.mu.Lock()
	owner := m.runs[id] == d
	if owner {
		delete(m.runs, id)
	}
	if err == nil {
		m.mu.Unlock()
		return
	}
	if !owner {
		// The item was re-dispatched while this call was running.
		m.mu.Unlock()
		slog.Debug("Ignoring download error from a previous run", "id", id, "error", err)
		return
	}
	if m.canceling != nil && m.canceling.ID == id {
		// Echo of our own cancel or pause; the cancelled event settles it.
		intent := m.canceling.Intent
		m.mu.Unlock()
		utils.Debug("Queue: host rejected %s during %s: %v", id, intent, err)
		return
	}
	it, ok = m.index[id]
	if !ok || it.Status != StatusInProgress {
		m.mu.Unlock()
		slog.Debug("Ignoring late download error", "id", id, "error", err)
		return
	}
	m.setStatusLocked(it, StatusFailed)
	if m.observer != nil {
		m.observer.DispatchFailed()
	}
	snap := it.clone()
	fn := m.onDispatchFailed
	m.mu.Unlock()
	m.notify()

	slog.Warn("Download dispatch failed", "id", id, "url", req.Locator, "error", err)
	if fn != nil {
		fn(snap, err)
	}
}

// releaseRun drops d's ownership of id when it never reached the host.
func (m *Manager) releaseRun(id string, d *dispatch) {
	m.mu.Lock()
	if m.runs[id] == d {
		delete(m.runs, id)
	}
	m.mu.Unlock()
}
