// Package cache stores computed query responses per tenant with an explicit TTL.
//
// Two interchangeable backends implement Cache: Memory for single-instance
// deployments and Redis for entries shared across instances and restarts.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures. Callers treat it as a miss.
var ErrUnavailable = errors.New("cache unavailable")

// Entry is an immutable cached value. It is replaced, never mutated.
type Entry struct {
	Value     []byte        `json:"value"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry is older than its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

type Stats struct {
	Backend   string `json:"backend"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Writes    uint64 `json:"writes"`
	Evictions uint64 `json:"evictions"`
	Errors    uint64 `json:"errors"`
	// Entries is -1 when the backend cannot count cheaply.
	Entries int `json:"entries"`
}

type Cache interface {
	// Get returns the live entry for key. Absent and expired entries are misses.
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Stats(ctx context.Context) Stats
	// ClearTenant removes every entry of one tenant and returns how many were
	// removed, or -1 when the backend cannot tell.
	ClearTenant(ctx context.Context, tenantID string) (int, error)
	Close() error
}

// Noop never stores anything. It backs CACHE_BACKEND=none.
type Noop struct{}

func (Noop) Get(context.Context, string) (*Entry, bool, error) { return nil, false, nil }

func (Noop) Put(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) Stats(context.Context) Stats { return Stats{Backend: "none"} }

func (Noop) ClearTenant(context.Context, string) (int, error) { return 0, nil }

func (Noop) Close() error { return nil }
