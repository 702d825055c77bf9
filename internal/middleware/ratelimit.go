package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iliyamo/amenity-booking/internal/config"
)

// tokenBucketScript refills and takes one token atomically.  It returns
// {allowed, tokens_left, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
    tokens = capacity
    last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
    local intervals = math.floor(math.max(0, now_ms - last_refill) / interval_ms)
    if intervals > 0 then
        tokens = math.min(capacity, tokens + intervals * refill_tokens)
        last_refill = last_refill + intervals * interval_ms
    end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
    allowed = 1
    tokens = tokens - 1
else
    retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return { allowed, tokens, retry_after_ms }
`)

// NewTokenBucket limits requests per key.  With a Redis client the bucket
// is shared by every instance; without one each instance keeps its own
// buckets in memory.  Redis errors let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = zap.NewNop()
	}
	if rdb == nil {
		return newLocalLimiter(cfg).middleware
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			vals, err := tokenBucketScript.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL/time.Second),
			).Int64Slice()
			if err != nil || len(vals) != 3 {
				log.Warn("rate limit check skipped", zap.String("key", key), zap.Error(err))
				return next(c)
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(vals[1], 10))
			if vals[0] != 1 {
				return tooManyRequests(c, time.Duration(vals[2])*time.Millisecond)
			}
			return next(c)
		}
	}
}

func tooManyRequests(c echo.Context, retry time.Duration) error {
	secs := int(math.Ceil(retry.Seconds()))
	if secs < 0 {
		secs = 0
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	return c.JSON(http.StatusTooManyRequests, echo.Map{
		"error":       "too_many_requests",
		"message":     "rate limit exceeded",
		"retry_after": secs,
	})
}

type localLimiter struct {
	cfg      config.RateLimitConfig
	mu       sync.Mutex
	limiters map[string]*localEntry
}

type localEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLocalLimiter(cfg config.RateLimitConfig) *localLimiter {
	return &localLimiter{cfg: cfg, limiters: make(map[string]*localEntry)}
}

func (l *localLimiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.limiters[key]
	if !ok {
		every := l.cfg.RefillInterval / time.Duration(max(l.cfg.RefillTokens, 1))
		e = &localEntry{lim: rate.NewLimiter(rate.Every(every), l.cfg.Capacity)}
		l.limiters[key] = e
	}
	e.seen = now
	// drop idle buckets once the map grows
	if len(l.limiters) > 10000 {
		for k, v := range l.limiters {
			if now.Sub(v.seen) > l.cfg.TTL {
				delete(l.limiters, k)
			}
		}
	}
	return e.lim
}

func (l *localLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		now := time.Now()
		lim := l.get(buildRateKey(l.cfg, c), now)
		r := lim.ReserveN(now, 1)
		c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Capacity))
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			return tooManyRequests(c, delay)
		}
		c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(lim.TokensAt(now))))
		return next(c)
	}
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := rateSubject(c)
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}
