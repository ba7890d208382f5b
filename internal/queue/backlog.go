package queue

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/alexjbarnes/docsync/internal/models"
)

// Backlog stores queued items between flushes. Implementations keep at most
// one item per (tenant, document, action) key.
type Backlog interface {
	// Upsert stores item, replacing any item with the same key.
	Upsert(ctx context.Context, item models.SyncQueueItem) error

	// Insert stores item only when no item with the same key exists and
	// reports whether it was stored.
	Insert(ctx context.Context, item models.SyncQueueItem) (bool, error)

	// Drain removes and returns every stored item.
	Drain(ctx context.Context) ([]models.SyncQueueItem, error)

	// Pending returns the stored items for one document in processing order.
	Pending(ctx context.Context, tenantID, documentID string) ([]models.SyncQueueItem, error)

	// Remove deletes every stored item for one document and returns how
	// many were removed.
	Remove(ctx context.Context, tenantID, documentID string) (int, error)

	// Len returns the number of stored items.
	Len(ctx context.Context) (int, error)
}

// sortItems orders items by ascending priority, earliest enqueue first
// within a priority.
func sortItems(items []models.SyncQueueItem) {
	slices.SortStableFunc(items, func(a, b models.SyncQueueItem) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}

		return a.EnqueuedAt.Compare(b.EnqueuedAt)
	})
}

// MemoryBacklog is a process-local Backlog.
type MemoryBacklog struct {
	mu    sync.Mutex
	items []models.SyncQueueItem
}

// NewMemoryBacklog returns an empty in-memory backlog.
func NewMemoryBacklog() *MemoryBacklog {
	return &MemoryBacklog{}
}

func (m *MemoryBacklog) Upsert(_ context.Context, item models.SyncQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := item.Key()
	m.items = slices.DeleteFunc(m.items, func(existing models.SyncQueueItem) bool {
		return existing.Key() == key
	})
	m.items = append(m.items, item)
	sortItems(m.items)

	return nil
}

func (m *MemoryBacklog) Insert(_ context.Context, item models.SyncQueueItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := item.Key()
	if slices.ContainsFunc(m.items, func(existing models.SyncQueueItem) bool {
		return existing.Key() == key
	}) {
		return false, nil
	}

	m.items = append(m.items, item)
	sortItems(m.items)

	return true, nil
}

func (m *MemoryBacklog) Drain(_ context.Context) ([]models.SyncQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := m.items
	m.items = nil

	return batch, nil
}

func (m *MemoryBacklog) Pending(_ context.Context, tenantID, documentID string) ([]models.SyncQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.SyncQueueItem

	for _, item := range m.items {
		if item.TenantID == tenantID && item.DocumentID == documentID {
			out = append(out, item)
		}
	}

	return out, nil
}

func (m *MemoryBacklog) Remove(_ context.Context, tenantID, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.items)
	m.items = slices.DeleteFunc(m.items, func(item models.SyncQueueItem) bool {
		return item.TenantID == tenantID && item.DocumentID == documentID
	})

	return before - len(m.items), nil
}

func (m *MemoryBacklog) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.items), nil
}
