package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores entries in a shared Redis so that every instance sees them and
// they survive restarts. Redis enforces the TTL; the stored CreatedAt/TTL are
// checked again on read so clock skew never serves a stale entry.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time

	hits, misses, writes, errs atomic.Uint64
}

func NewRedis(redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	return NewRedisFromClient(client), nil
}

func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "rag:", now: time.Now}
}

// Ping verifies the connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		r.errs.Add(1)
		return nil, false, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}

	e, err := decodeEntry(raw)
	if err != nil {
		r.errs.Add(1)
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if e.Expired(r.now()) {
		r.misses.Add(1)
		r.client.Del(ctx, r.prefix+key)
		return nil, false, nil
	}

	r.hits.Add(1)
	return e, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw, err := encodeEntry(&Entry{Value: value, CreatedAt: r.now(), TTL: ttl})
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		r.errs.Add(1)
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}
	r.writes.Add(1)
	return nil
}

// clearBatch is the SCAN count hint and the largest DEL issued at once.
const clearBatch = 500

// ClearTenant walks the tenant's keys with SCAN so a large keyspace is never
// blocked by KEYS.
func (r *Redis) ClearTenant(ctx context.Context, tenantID string) (int, error) {
	pattern := globEscape(r.prefix+TenantPrefix(tenantID)) + "*"

	removed := 0
	iter := r.client.Scan(ctx, 0, pattern, clearBatch).Iterator()
	batch := make([]string, 0, clearBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearBatch {
			if err := flush(); err != nil {
				r.errs.Add(1)
				return removed, fmt.Errorf("%w: del: %v", ErrUnavailable, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		r.errs.Add(1)
		return removed, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
	}
	if err := flush(); err != nil {
		r.errs.Add(1)
		return removed, fmt.Errorf("%w: del: %v", ErrUnavailable, err)
	}
	return removed, nil
}

// globEscape quotes the characters SCAN MATCH treats as a pattern.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (r *Redis) Stats(context.Context) Stats {
	return Stats{
		Backend: "redis",
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Writes:  r.writes.Load(),
		Errors:  r.errs.Load(),
		Entries: -1,
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func encodeEntry(e *Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(raw []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}
