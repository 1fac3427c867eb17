package history

import (
	"sort"
	"sync"
)

// MemoryStore is the in-memory fallback used when the database cannot be
// opened. Records do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Item
	seq   map[string]uint64
	next  uint64
	opts  options
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]Item),
		seq:   make(map[string]uint64),
		opts:  buildOptions(opts),
	}
}

func (m *MemoryStore) Add(item Item) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item.ID = newID()
	item.DateAdded = m.opts.now()
	m.items[item.ID] = item
	m.next++
	m.seq[item.ID] = m.next
	return item.ID, nil
}

func (m *MemoryStore) Get(id string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}

func (m *MemoryStore) GetAll() ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	return out, nil
}

func (m *MemoryStore) GetByStatus(status Status) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Item{}
	for _, it := range m.items {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetRecent(limit int) ([]Item, error) {
	if limit <= 0 {
		return []Item{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateAdded.Equal(out[j].DateAdded) {
			return out[i].DateAdded.After(out[j].DateAdded)
		}
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Update(id string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	patch.apply(&it)
	m.items[id] = it
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	delete(m.seq, id)
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]Item)
	m.seq = make(map[string]uint64)
	return nil
}
