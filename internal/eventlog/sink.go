// Package eventlog buffers tenant events in memory and writes them to durable
// storage in batches, off the request path.
//
// Each tenant has its own buffer and lock. A buffer is flushed when it reaches
// the batch size or when the flush interval elapses, whichever comes first.
// Every write carries events of exactly one tenant, in the order they were
// recorded. A failed write is put back at the head of the tenant's buffer and
// retried on the next trigger.
package eventlog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

// Store is the durable, append-only destination of one tenant's log stream.
type Store interface {
	Append(ctx context.Context, tenantID string, events []models.Event) error
}

// Reader returns the most recent events of a tenant, newest first.
type Reader interface {
	Read(ctx context.Context, tenantID string, limit int) ([]models.Event, error)
}

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	// MaxBuffered bounds one tenant's buffer; the oldest events are dropped past
	// it. Below BatchSize only the interval triggers flushes.
	MaxBuffered  int
	FlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Minute
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = 10000
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
	return c
}

type Stats struct {
	Recorded      uint64 `json:"recorded"`
	Flushed       uint64 `json:"flushed"`
	Dropped       uint64 `json:"dropped"`
	FlushFailures uint64 `json:"flush_failures"`
	Buffered      int    `json:"buffered"`
	Tenants       int    `json:"tenants"`
}

type buffer struct {
	mu     sync.Mutex
	events []models.Event
}

type Sink struct {
	store  Store
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	buffers map[string]*buffer

	// flushMu serializes flushes so a tenant's batches reach the store in order.
	flushMu sync.Mutex

	kick   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool

	recorded, flushed, dropped, failures atomic.Uint64
}

// NewSink starts the background flusher. Call Close to stop it and flush
// what is left.
func NewSink(store Store, cfg Config, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{
		store:   store,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		buffers: make(map[string]*buffer),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Record appends ev to its tenant's buffer. It never blocks on storage.
func (s *Sink) Record(ev models.Event) {
	if s.closed.Load() {
		s.dropLate(ev)
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b := s.bufferFor(ev.TenantID)

	b.mu.Lock()
	// Close sets closed before the final flush takes this lock, so an event
	// appended here is either seen by that flush or rejected.
	if s.closed.Load() {
		b.mu.Unlock()
		s.dropLate(ev)
		return
	}
	if len(b.events) >= s.cfg.MaxBuffered {
		n := len(b.events) - s.cfg.MaxBuffered + 1
		b.events = append(b.events[:0:0], b.events[n:]...)
		s.dropped.Add(uint64(n))
		s.logger.Warn("event buffer full, dropping oldest",
			zap.String("tenant_id", ev.TenantID),
			zap.Int("dropped", n))
	}
	b.events = append(b.events, ev)
	full := len(b.events) >= s.cfg.BatchSize
	b.mu.Unlock()

	s.recorded.Add(1)
	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

func (s *Sink) dropLate(ev models.Event) {
	s.dropped.Add(1)
	s.logger.Warn("event recorded after close, dropped",
		zap.String("tenant_id", ev.TenantID),
		zap.String("event_type", string(ev.Type)))
}

func (s *Sink) bufferFor(tenantID string) *buffer {
	s.mu.RLock()
	b, ok := s.buffers[tenantID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buffers[tenantID]; !ok {
		b = &buffer{}
		s.buffers[tenantID] = b
	}
	return b
}

func (s *Sink) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.kick:
			s.flush(s.cfg.BatchSize)
		case <-ticker.C:
			s.flush(1)
		case <-s.stop:
			return
		}
	}
}

// Flush writes every non-empty buffer now. It returns the number of events
// that could not be written and remain buffered.
func (s *Sink) Flush(ctx context.Context) int {
	return s.flushCtx(ctx, 1)
}

func (s *Sink) flush(minEvents int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()
	s.flushCtx(ctx, minEvents)
}

func (s *Sink) flushCtx(ctx context.Context, minEvents int) int {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	pending := 0
	for _, tenantID := range s.tenantIDs() {
		pending += s.flushTenant(ctx, tenantID, minEvents)
	}
	return pending
}

func (s *Sink) flushTenant(ctx context.Context, tenantID string, minEvents int) int {
	b := s.bufferFor(tenantID)

	b.mu.Lock()
	if len(b.events) < minEvents || len(b.events) == 0 {
		n := len(b.events)
		b.mu.Unlock()
		return n
	}
	taken := b.events
	b.events = nil
	b.mu.Unlock()

	for len(taken) > 0 {
		n := min(len(taken), s.cfg.BatchSize)
		batch := taken[:n]

		if err := s.store.Append(ctx, tenantID, batch); err != nil {
			s.failures.Add(1)
			s.logger.Error("event flush failed, will retry",
				zap.String("tenant_id", tenantID),
				zap.Int("events", len(taken)),
				zap.Error(err))
			s.requeue(b, taken)
			return len(taken)
		}

		s.flushed.Add(uint64(n))
		taken = taken[n:]
	}

	s.logger.Debug("flushed tenant events", zap.String("tenant_id", tenantID))
	b.mu.Lock()
	n := len(b.events)
	b.mu.Unlock()
	return n
}

// requeue puts unwritten events back ahead of anything recorded meanwhile.
func (s *Sink) requeue(b *buffer, unwritten []models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]models.Event, 0, len(unwritten)+len(b.events))
	merged = append(merged, unwritten...)
	merged = append(merged, b.events...)
	if over := len(merged) - s.cfg.MaxBuffered; over > 0 {
		merged = merged[over:]
		s.dropped.Add(uint64(over))
	}
	b.events = merged
}

func (s *Sink) tenantIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Buffered returns how many events of tenantID await a flush.
func (s *Sink) Buffered(tenantID string) int {
	s.mu.RLock()
	b, ok := s.buffers[tenantID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (s *Sink) Stats() Stats {
	st := Stats{
		Recorded:      s.recorded.Load(),
		Flushed:       s.flushed.Load(),
		Dropped:       s.dropped.Load(),
		FlushFailures: s.failures.Load(),
	}
	for _, id := range s.tenantIDs() {
		st.Buffered += s.Buffered(id)
		st.Tenants++
	}
	return st
}

// Close stops the flusher and makes a last attempt to write every buffer.
func (s *Sink) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stop)
	<-s.done

	if pending := s.flushCtx(ctx, 1); pending > 0 {
		s.logger.Error("events lost on shutdown", zap.Int("pending", pending))
	}
	return ctx.Err()
}
