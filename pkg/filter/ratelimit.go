package filter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/component"
)

const rateLimitLogPrefix = "filter:ratelimit"

const (
	defaultRPS   = 50.0
	defaultBurst = 100
)

// Backend decides whether one more invocation is allowed for key.
type Backend interface {
	Allow(ctx context.Context, key string, rps float64, burst int) (bool, error)
}

// RateLimit rejects invocations with RATE_LIMITED once the caller's token
// bucket is empty. Callers are keyed by user, then tenant, then "anonymous".
type RateLimit struct {
	backend Backend
	rps     float64
	burst   int
}

func NewRateLimit(backend Backend, rps float64, burst int) (*RateLimit, error) {
	if backend == nil {
		return nil, fmt.Errorf("%s - backend is required", rateLimitLogPrefix)
	}
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("%s - rps and burst must be positive, got %v/%d", rateLimitLogPrefix, rps, burst)
	}
	return &RateLimit{backend: backend, rps: rps, burst: burst}, nil
}

// NewRateLimitFromProps reads "rps", "burst" and "backend". The redis
// backend falls back to local buckets while Redis is unreachable.
func NewRateLimitFromProps(props component.Props, client *redis.Client) (*RateLimit, error) {
	var backend Backend
	switch kind := props.GetString("backend", "local"); kind {
	case "local":
		backend = NewLocalBackend()
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("%s - redis backend selected but no redis client configured", rateLimitLogPrefix)
		}
		backend = NewFallbackBackend(NewRedisBackend(client))
	default:
		return nil, fmt.Errorf("%s - unknown rate limit backend %q", rateLimitLogPrefix, kind)
	}
	return NewRateLimit(backend, props.GetFloat("rps", defaultRPS), props.GetInt("burst", defaultBurst))
}

func (*RateLimit) Name() string { return RateLimitName }

func (r *RateLimit) Apply(ctx context.Context, ic *call.InvokeContext) error {
	key := callerKey(ic)
	allowed, err := r.backend.Allow(ctx, key, r.rps, r.burst)
	if err != nil {
		return &call.Error{Code: call.CodeInternal, Message: "rate limit check failed", Err: err}
	}
	if !allowed {
		return &call.Error{
			Code:    call.CodeRateLimited,
			Message: fmt.Sprintf("rate limit exceeded for %s", key),
			Details: map[string]any{"filter": RateLimitName, "key": key},
		}
	}
	return nil
}

func callerKey(ic *call.InvokeContext) string {
	if u := ic.UserID(); u != "" {
		return "user:" + u
	}
	if t := ic.TenantID(); t != "" {
		return "tenant:" + t
	}
	return "anonymous"
}

const (
	minBucketIdle       = time.Minute
	bucketSweepInterval = time.Minute
	defaultMaxLocalKeys = 100_000
)

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalBackend keeps one in-memory token bucket per key. Buckets idle for
// twice their refill time (at least a minute) are already full and are
// evicted, like the TTL on Redis buckets. At most maxKeys buckets are kept;
// past that the least recently used one is dropped.
type LocalBackend struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	maxKeys   int
	lastSweep time.Time
	now       func() time.Time
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		buckets: make(map[string]*localBucket),
		maxKeys: defaultMaxLocalKeys,
		now:     time.Now,
	}
}

func (l *LocalBackend) Allow(_ context.Context, key string, rps float64, burst int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= bucketSweepInterval {
		l.sweep(now, bucketIdle(rps, burst))
	}

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.sweep(now, bucketIdle(rps, burst))
			if len(l.buckets) >= l.maxKeys {
				l.evictOldest()
			}
		}
		b = &localBucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// Len returns the number of buckets held.
func (l *LocalBackend) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *LocalBackend) sweep(now time.Time, idle time.Duration) {
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(l.buckets, key)
		}
	}
}

func (l *LocalBackend) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, b := range l.buckets {
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey, oldest = key, b.lastSeen
		}
	}
	delete(l.buckets, oldestKey)
}

func bucketIdle(rps float64, burst int) time.Duration {
	idle := time.Duration(float64(burst) / rps * 2 * float64(time.Second))
	if idle < minBucketIdle {
		return minBucketIdle
	}
	return idle
}

// tokenBucketScript atomically refills and takes one token.
// KEYS[1] = bucket key; ARGV = max_tokens, refill_rate, now (unix microseconds).
// Returns [allowed (0/1), remaining tokens].
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(bucket[1])
local last_refill = tonumber(bucket[2])

if tokens == nil then
    tokens = max_tokens
    last_refill = now
end

local elapsed = (now - last_refill) / 1000000.0
if elapsed > 0 then
    tokens = math.min(max_tokens, tokens + elapsed * refill_rate)
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tostring(tokens), "last_refill", tostring(now))
local ttl = math.ceil(max_tokens / refill_rate * 2)
if ttl < 60 then ttl = 60 end
redis.call("EXPIRE", key, ttl)

return {allowed, math.floor(tokens)}
`)

// RedisBackend shares token buckets across processes through Redis.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: "callcore:rl:"}
}

func (b *RedisBackend) Allow(ctx context.Context, key string, rps float64, burst int) (bool, error) {
	result, err := tokenBucketScript.Run(ctx, b.client, []string{b.prefix + key},
		burst, rps, time.Now().UnixMicro(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("%s - redis rate limit check: %w", rateLimitLogPrefix, err)
	}
	return result[0] == 1, nil
}

const probeInterval = 5 * time.Second

// FallbackBackend uses primary until it errors, then serves from local
// buckets and probes primary at most every probeInterval.
type FallbackBackend struct {
	primary   Backend
	local     *LocalBackend
	degraded  atomic.Bool
	lastProbe atomic.Int64
	probeMu   sync.Mutex
}

func NewFallbackBackend(primary Backend) *FallbackBackend {
	return &FallbackBackend{primary: primary, local: NewLocalBackend()}
}

func (f *FallbackBackend) Allow(ctx context.Context, key string, rps float64, burst int) (bool, error) {
	if f.degraded.Load() {
		if time.Since(time.Unix(0, f.lastProbe.Load())) > probeInterval {
			go f.probe(context.WithoutCancel(ctx), rps, burst)
		}
		return f.local.Allow(ctx, key, rps, burst)
	}

	allowed, err := f.primary.Allow(ctx, key, rps, burst)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Primary backend error, degrading to local buckets: %v", rateLimitLogPrefix, err))
		f.degraded.Store(true)
		f.lastProbe.Store(time.Now().UnixNano())
		return f.local.Allow(ctx, key, rps, burst)
	}
	return allowed, nil
}

func (f *FallbackBackend) probe(ctx context.Context, rps float64, burst int) {
	if !f.probeMu.TryLock() {
		return
	}
	defer f.probeMu.Unlock()
	f.lastProbe.Store(time.Now().UnixNano())

	if _, err := f.primary.Allow(ctx, "probe:health", rps, burst); err == nil {
		slog.Info(fmt.Sprintf("%s - Primary backend recovered", rateLimitLogPrefix))
		f.degraded.Store(false)
	}
}

// Degraded reports whether local buckets are currently in use.
func (f *FallbackBackend) Degraded() bool {
	return f.degraded.Load()
}
