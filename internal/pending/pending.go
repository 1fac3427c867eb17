// Package pending mirrors unfinished queue items into durable storage so
// they can be re-enqueued after a restart.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/store"
	"github.com/godlp/godlp/internal/utils"
)

// Key is the storage key of the snapshot document.
const Key = "godlp_pending_downloads"

// Queue is the part of the queue manager the snapshot reads and refills.
type Queue interface {
	ListAll() []queue.Item
	Enqueue(req queue.Request) queue.Item
}

// Snapshot saves and restores the pending and in-progress queue items.
type Snapshot struct {
	kv    store.KV
	queue Queue
}

// New creates a snapshot over kv for q.
func New(kv store.KV, q Queue) *Snapshot {
	return &Snapshot{kv: kv, queue: q}
}

// Save writes every pending and in-progress item. With none left the stored
// document is deleted rather than written empty.
func (s *Snapshot) Save() error {
	var entries []queue.Item
	for _, it := range s.queue.ListAll() {
		if it.Status == queue.StatusPending || it.Status == queue.StatusInProgress {
			entries = append(entries, it)
		}
	}

	if len(entries) == 0 {
		return s.Clear()
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode pending downloads: %w", err)
	}
	if err := s.kv.Set(Key, data); err != nil {
		return fmt.Errorf("failed to save pending downloads: %w", err)
	}
	return nil
}

// Restore reads the stored snapshot. A missing or corrupt document yields
// an empty result; corruption is logged.
func (s *Snapshot) Restore() []queue.Item {
	data, err := s.kv.Get(Key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to read pending downloads", "error", err)
		}
		return nil
	}

	var entries []queue.Item
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("Discarding corrupt pending downloads snapshot", "error", err)
		return nil
	}
	return entries
}

// ResumeAll re-enqueues every restored entry through the normal enqueue
// path and deletes the snapshot. It returns the number of entries resumed.
func (s *Snapshot) ResumeAll() int {
	entries := s.Restore()
	n := 0
	for _, it := range entries {
		if it.Status != queue.StatusPending && it.Status != queue.StatusInProgress {
			continue
		}
		req := it.Request()
		if req.Priority == "" {
			req.Priority = queue.PriorityNormal
		}
		s.queue.Enqueue(req)
		n++
	}
	if err := s.Clear(); err != nil {
		slog.Warn("Failed to clear pending downloads", "error", err)
	}
	if n > 0 {
		utils.Debug("Pending: resumed %d downloads", n)
	}
	return n
}

// Clear deletes the stored snapshot.
func (s *Snapshot) Clear() error {
	if err := s.kv.Delete(Key); err != nil {
		return fmt.Errorf("failed to clear pending downloads: %w", err)
	}
	return nil
}

// Run saves the snapshot every interval until ctx ends, then saves once
// more.
func (s *Snapshot) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Save(); err != nil {
				slog.Warn("Final pending snapshot failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.Save(); err != nil {
				slog.Warn("Pending snapshot failed", "error", err)
			}
		}
	}
}
