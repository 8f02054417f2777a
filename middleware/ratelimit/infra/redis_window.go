package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"troubadour/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// windowScript aplica a janela deslizante num sorted set (score = ms do request).
// Retorna {allowed, count, resetAtMs}.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local reset = 0
	if oldest[2] then
		reset = tonumber(oldest[2]) + window
	end
	return {0, count, reset}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, tonumber(oldest[2]) + window}
`)

// RedisWindow é a janela deslizante compartilhada entre instâncias.
// Chaves expiram sozinhas (PEXPIRE), então não precisa de janitor.
type RedisWindow struct {
	rdb         redis.Scripter
	prefix      string
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

type RedisWindowOption func(*RedisWindow)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(s *RedisWindow) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisClock(now func() time.Time) RedisWindowOption {
	return func(s *RedisWindow) { s.now = now }
}

func NewRedisWindow(rdb redis.Scripter, maxRequests int, window time.Duration, opts ...RedisWindowOption) *RedisWindow {
	s := &RedisWindow{
		rdb:         rdb,
		prefix:      "ratelimit:window",
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisWindow) Limit() int { return s.maxRequests }

// Check implementa domain.Limiter.
func (s *RedisWindow) Check(ctx context.Context, key domain.Key) (domain.Decision, error) {
	if s == nil || s.rdb == nil {
		return domain.Decision{}, fmt.Errorf("redis window: client unavailable")
	}

	now := s.now()
	nowMs := now.UnixMilli()
	res, err := windowScript.Run(ctx, s.rdb,
		[]string{s.prefix + ":" + string(key)},
		nowMs, s.window.Milliseconds(), s.maxRequests, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("redis window check: %w", err)
	}
	if len(res) < 3 {
		return domain.Decision{}, fmt.Errorf("redis window check: unexpected reply %v", res)
	}

	dec := domain.Decision{
		Allowed: res[0] == 1,
		Limit:   max(s.maxRequests, 0),
	}
	if res[2] > 0 {
		dec.ResetAt = time.UnixMilli(res[2])
	}
	if dec.Allowed {
		dec.Remaining = s.maxRequests - int(res[1])
		return dec, nil
	}
	if res[2] > nowMs {
		dec.RetryAfter = time.Duration(res[2]-nowMs) * time.Millisecond
	}
	return dec, nil
}
