package eventlog

import (
	"context"
	"sync"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

// MemoryStore keeps every appended batch. It backs EVENT_STORE=memory and
// the CLI, where durability is not needed.
type MemoryStore struct {
	mu      sync.Mutex
	batches map[string][][]models.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: make(map[string][][]models.Event)}
}

func (m *MemoryStore) Append(_ context.Context, tenantID string, events []models.Event) error {
	batch := append([]models.Event(nil), events...)

	m.mu.Lock()
	m.batches[tenantID] = append(m.batches[tenantID], batch)
	m.mu.Unlock()
	return nil
}

// Batches returns the writes made for tenantID, in order.
func (m *MemoryStore) Batches(tenantID string) [][]models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]models.Event, len(m.batches[tenantID]))
	copy(out, m.batches[tenantID])
	return out
}

// Events returns the tenant's stream in insertion order.
func (m *MemoryStore) Events(tenantID string) []models.Event {
	var out []models.Event
	for _, b := range m.Batches(tenantID) {
		out = append(out, b...)
	}
	return out
}

func (m *MemoryStore) Read(_ context.Context, tenantID string, limit int) ([]models.Event, error) {
	return newestFirst(m.Events(tenantID), limit), nil
}

func newestFirst(events []models.Event, limit int) []models.Event {
	if limit <= 0 || limit > len(events) {
		limit = len(events)
	}
	out := make([]models.Event, 0, limit)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out
}
