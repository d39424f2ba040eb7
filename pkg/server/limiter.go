package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// tokenBucketScript runs the bucket atomically in Redis so every node
// of a multi-node deployment shares one limit per tenant.
// KEYS[1] = bucket key, ARGV[1] = refill rate/s, ARGV[2] = capacity,
// ARGV[3] = cost, ARGV[4] = now (unix seconds, fractional).
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// Limiter enforces a per-tenant request rate. With Redis configured
// the bucket is shared across nodes; without it, or when Redis is
// unreachable, a process-local limiter takes over so a Redis outage
// never blocks decisions.
type Limiter struct {
	client *redis.Client
	rps    float64
	burst  int
	log    *slog.Logger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// NewLimiter builds a limiter. client may be nil for local-only mode.
func NewLimiter(client *redis.Client, rps float64, burst int, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{
		client: client,
		rps:    rps,
		burst:  burst,
		log:    logger,
		local:  make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the tenant may proceed.
func (l *Limiter) Allow(ctx context.Context, tenantID string) bool {
	if l.rps <= 0 {
		return true
	}
	if l.client != nil {
		allowed, err := l.allowRedis(ctx, tenantID)
		if err == nil {
			return allowed
		}
		l.log.Warn("redis limiter unavailable, using local fallback",
			"tenantId", tenantID, "error", err)
	}
	return l.allowLocal(tenantID)
}

func (l *Limiter) allowRedis(ctx context.Context, tenantID string) (bool, error) {
	key := "warden:limit:" + tenantID
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key}, l.rps, l.burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("server: run limiter script: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("server: unexpected limiter script result %T", res)
	}
	return allowed == 1, nil
}

func (l *Limiter) allowLocal(tenantID string) bool {
	l.mu.Lock()
	lim, ok := l.local[tenantID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.local[tenantID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
