package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and optionally consumes one token atomically.
// Returns {allowed, tokens * 1000, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now_ms
end

local elapsed = now_ms - ts
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * capacity / window_ms)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  if consume == 1 then tokens = tokens - 1 end
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now_ms))
redis.call('PEXPIRE', KEYS[1], window_ms * 2)

local retry = 0
if tokens < 1 then
  retry = math.ceil((1 - tokens) * window_ms / capacity)
end
return {allowed, math.floor(tokens * 1000), retry}
`)

// RedisLimiter evaluates the token bucket in Redis so that every gateway
// instance shares one bucket per tenant.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(redisURL string, window time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	return NewRedisLimiterFromClient(client, window), nil
}

func NewRedisLimiterFromClient(client *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{client: client, window: window, now: time.Now}
}

func (rl *RedisLimiter) Admit(ctx context.Context, tenantID string, quota int) (Decision, error) {
	return rl.eval(ctx, tenantID, quota, true)
}

func (rl *RedisLimiter) Status(ctx context.Context, tenantID string, quota int) (Decision, error) {
	return rl.eval(ctx, tenantID, quota, false)
}

// eval fails open: on a Redis error the request is allowed and the error
// returned for the caller to log.
func (rl *RedisLimiter) eval(ctx context.Context, tenantID string, quota int, consume bool) (Decision, error) {
	if quota <= 0 {
		return Decision{Allowed: true, Limit: quota}, nil
	}

	flag := 0
	if consume {
		flag = 1
	}
	res, err := tokenBucketScript.Run(ctx, rl.client,
		[]string{bucketKey(tenantID)},
		quota, rl.window.Milliseconds(), rl.now().UnixMilli(), flag,
	).Int64Slice()
	if err != nil {
		return Decision{Allowed: true, Limit: quota}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{Allowed: true, Limit: quota}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Limit:      quota,
		Remaining:  int(res[1] / 1000),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

func (rl *RedisLimiter) Close() error {
	return rl.client.Close()
}

func bucketKey(tenantID string) string {
	return fmt.Sprintf("ratelimit:tenant:%s", tenantID)
}
