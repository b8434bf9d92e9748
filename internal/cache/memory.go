package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is an in-process cache. Entries are lost on restart. Expired entries
// are evicted on access, and by the janitor when one is configured.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time

	hits, misses, writes, evictions atomic.Uint64

	stop chan struct{}
	done chan struct{}
}

type MemoryOption func(*Memory)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithJanitor sweeps expired entries every interval.
func WithJanitor(interval time.Duration) MemoryOption {
	return func(m *Memory) {
		if interval <= 0 {
			return
		}
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.janitor(interval)
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		m.misses.Add(1)
		return nil, false, nil
	}

	if e.Expired(m.now()) {
		m.mu.Lock()
		// only drop the entry we saw, a concurrent Put may have replaced it
		if cur, ok := m.entries[key]; ok && cur == e {
			delete(m.entries, key)
			m.evictions.Add(1)
		}
		m.mu.Unlock()
		m.misses.Add(1)
		return nil, false, nil
	}

	m.hits.Add(1)
	return e, true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := &Entry{
		Value:     append([]byte(nil), value...),
		CreatedAt: m.now(),
		TTL:       ttl,
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()

	m.writes.Add(1)
	return nil
}

func (m *Memory) Stats(context.Context) Stats {
	m.mu.RLock()
	n := len(m.entries)
	m.mu.RUnlock()

	return Stats{
		Backend:   "memory",
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Writes:    m.writes.Load(),
		Evictions: m.evictions.Load(),
		Entries:   n,
	}
}

func (m *Memory) ClearTenant(_ context.Context, tenantID string) (int, error) {
	prefix := TenantPrefix(tenantID)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Sweep removes every expired entry and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	m.evictions.Add(uint64(removed))
	return removed
}

func (m *Memory) janitor(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) Close() error {
	if m.stop != nil {
		close(m.stop)
		<-m.done
		m.stop = nil
	}
	return nil
}
