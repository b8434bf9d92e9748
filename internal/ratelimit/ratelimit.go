// Package ratelimit implements per-tenant token-bucket admission control.
//
// A tenant's bucket holds at most quota tokens and refills quota tokens per
// window. Each admitted request consumes one token. A denial is a normal
// Decision, not an error.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const DefaultWindow = time.Minute

type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Unlimited reports whether the decision came from a tenant with no quota.
func (d Decision) Unlimited() bool { return d.Limit <= 0 }

type Limiter interface {
	// Admit consumes one token from the tenant's bucket if one is available.
	Admit(ctx context.Context, tenantID string, quota int) (Decision, error)
	// Status reports the bucket without consuming.
	Status(ctx context.Context, tenantID string, quota int) (Decision, error)
}

type bucket struct {
	quota int
	lim   *rate.Limiter
}

// Buckets keeps one in-process bucket per tenant. Buckets are created lazily
// and live for the lifetime of the Buckets value. Each bucket serializes its
// own mutations; tenants never share a lock on the admission path.
type Buckets struct {
	window time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket
}

type Option func(*Buckets)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buckets) { b.now = now }
}

func NewBuckets(window time.Duration, opts ...Option) *Buckets {
	if window <= 0 {
		window = DefaultWindow
	}
	b := &Buckets{
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Buckets) Admit(_ context.Context, tenantID string, quota int) (Decision, error) {
	if quota <= 0 {
		return Decision{Allowed: true, Limit: quota}, nil
	}

	bk := b.get(tenantID, quota)
	now := b.now()
	allowed := bk.lim.AllowN(now, 1)
	return b.decision(bk, now, allowed), nil
}

func (b *Buckets) Status(_ context.Context, tenantID string, quota int) (Decision, error) {
	if quota <= 0 {
		return Decision{Allowed: true, Limit: quota}, nil
	}

	bk := b.get(tenantID, quota)
	now := b.now()
	return b.decision(bk, now, bk.lim.TokensAt(now) >= 1), nil
}

func (b *Buckets) decision(bk *bucket, now time.Time, allowed bool) Decision {
	tokens := bk.lim.TokensAt(now)
	d := Decision{
		Allowed:   allowed,
		Limit:     bk.quota,
		Remaining: int(math.Floor(math.Max(0, tokens))),
	}
	if tokens < 1 {
		perToken := b.window / time.Duration(bk.quota)
		d.RetryAfter = time.Duration((1 - tokens) * float64(perToken))
	}
	return d
}

// get returns the tenant's bucket, replacing it when the quota changed.
func (b *Buckets) get(tenantID string, quota int) *bucket {
	b.mu.RLock()
	bk, ok := b.buckets[tenantID]
	b.mu.RUnlock()
	if ok && bk.quota == quota {
		return bk
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if bk, ok := b.buckets[tenantID]; ok && bk.quota == quota {
		return bk
	}
	every := b.window / time.Duration(quota)
	bk = &bucket{quota: quota, lim: rate.NewLimiter(rate.Every(every), quota)}
	b.buckets[tenantID] = bk
	return bk
}

// Len returns the number of live buckets.
func (b *Buckets) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buckets)
}
