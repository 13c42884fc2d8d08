package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	blob      []byte
	createdAt time.Time
}

// MemoryStore keeps checkpoints in process memory. Used by tests and as
// the default when nothing is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Write stores a new checkpoint blob.
func (s *MemoryStore) Write(ctx context.Context, id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return errExists(id)
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	s.entries[id] = memoryEntry{blob: cp, createdAt: time.Now()}
	return nil
}

// Read returns the blob for id.
func (s *MemoryStore) Read(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, errNotFound(id)
	}
	cp := make([]byte, len(entry.blob))
	copy(cp, entry.blob)
	return cp, nil
}

// ListRecent returns checkpoint metadata newest-first.
func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metas := make([]Meta, 0, len(s.entries))
	for id, entry := range s.entries {
		metas = append(metas, Meta{ID: id, CreatedAt: entry.createdAt})
	}

	// Sort by creation time descending.
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})

	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

// Delete removes one checkpoint.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return errNotFound(id)
	}
	delete(s.entries, id)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
