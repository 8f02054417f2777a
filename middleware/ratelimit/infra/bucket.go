package infra

import (
	"context"
	"math"
	"sync"
	"time"

	"troubadour/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// TokenBucket protege as rotas públicas: um rate.Limiter por IP, criado no
// primeiro acesso e descartado depois de idleTTL sem uso.
type TokenBucket struct {
	every rate.Limit
	burst int
	idle  time.Duration
	sweep time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[domain.Key]*ipBucket
}

type ipBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

type BucketOption func(*TokenBucket)

// WithIdleTTL define depois de quanto tempo parado um IP é esquecido.
func WithIdleTTL(d time.Duration) BucketOption {
	return func(b *TokenBucket) { b.idle = d }
}

// WithCleanupEvery define o intervalo do janitor (<= 0 desliga).
func WithCleanupEvery(d time.Duration) BucketOption {
	return func(b *TokenBucket) { b.sweep = d }
}

func WithBucketClock(now func() time.Time) BucketOption {
	return func(b *TokenBucket) { b.now = now }
}

func NewTokenBucket(rps float64, burst int, opts ...BucketOption) *TokenBucket {
	b := &TokenBucket{
		every:   rate.Limit(rps),
		burst:   burst,
		idle:    15 * time.Minute,
		sweep:   2 * time.Minute,
		now:     time.Now,
		buckets: make(map[domain.Key]*ipBucket),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Check implementa domain.Limiter. Na negação, RetryAfter é o tempo até o
// balde ter um token inteiro de novo.
func (b *TokenBucket) Check(_ context.Context, key domain.Key) (domain.Decision, error) {
	now := b.now()
	lim := b.bucket(key, now)

	if lim.AllowN(now, 1) {
		left := math.Floor(lim.TokensAt(now))
		return domain.Decision{Allowed: true, Limit: b.burst, Remaining: int(math.Max(0, left))}, nil
	}
	return domain.Decision{Limit: b.burst, RetryAfter: b.wait(lim.TokensAt(now))}, nil
}

func (b *TokenBucket) wait(tokens float64) time.Duration {
	if b.every <= 0 || b.every == rate.Inf {
		return 0
	}
	missing := math.Max(0, 1-tokens)
	return time.Duration(math.Ceil(missing / float64(b.every) * float64(time.Second)))
}

func (b *TokenBucket) bucket(key domain.Key, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	ent, ok := b.buckets[key]
	if !ok {
		ent = &ipBucket{lim: rate.NewLimiter(b.every, b.burst)}
		b.buckets[key] = ent
	}
	ent.seen = now
	return ent.lim
}

func (b *TokenBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}

// Cleanup esquece os IPs parados há mais de idleTTL e devolve quantos saíram.
func (b *TokenBucket) Cleanup() int {
	cutoff := b.now().Add(-b.idle)

	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for k, ent := range b.buckets {
		if ent.seen.Before(cutoff) {
			delete(b.buckets, k)
			n++
		}
	}
	return n
}

// StartJanitor roda Cleanup a cada WithCleanupEvery até ctx encerrar.
func (b *TokenBucket) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, b.sweep, func() { b.Cleanup() })
}
