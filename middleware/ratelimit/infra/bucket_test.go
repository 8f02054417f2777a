package infra

import (
	"context"
	"testing"
	"time"

	"troubadour/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(rps float64, burst int, opts ...BucketOption) (*TokenBucket, *fakeClock) {
	clk := newFakeClock()
	return NewTokenBucket(rps, burst, append(opts, WithBucketClock(clk.Now))...), clk
}

func TestTokenBucket_BurstThenDeny(t *testing.T) {
	b, _ := newTestBucket(0.02, 2)
	ctx := context.Background()

	first, err := b.Check(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, 2, first.Limit)

	second, _ := b.Check(ctx, "203.0.113.9")
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third, _ := b.Check(ctx, "203.0.113.9")
	assert.False(t, third.Allowed)
	// 1/0.02 rps = 50s por token
	assert.InDelta(t, float64(50*time.Second), float64(third.RetryAfter), float64(time.Millisecond))
}

func TestTokenBucket_RetryAfterShrinksWithTime(t *testing.T) {
	b, clk := newTestBucket(0.1, 1)
	ctx := context.Background()

	dec, _ := b.Check(ctx, "ip")
	require.True(t, dec.Allowed)

	clk.Advance(4 * time.Second)
	dec, _ = b.Check(ctx, "ip")
	require.False(t, dec.Allowed)
	assert.InDelta(t, float64(6*time.Second), float64(dec.RetryAfter), float64(time.Millisecond))

	clk.Advance(6 * time.Second)
	dec, _ = b.Check(ctx, "ip")
	assert.True(t, dec.Allowed, "token refilled")
}

func TestTokenBucket_KeysAreIndependent(t *testing.T) {
	b, _ := newTestBucket(0.01, 1)
	ctx := context.Background()

	for _, ip := range []domain.Key{"10.0.0.1", "10.0.0.2"} {
		dec, _ := b.Check(ctx, ip)
		assert.True(t, dec.Allowed, ip)
	}
	dec, _ := b.Check(ctx, "10.0.0.1")
	assert.False(t, dec.Allowed)
	assert.Equal(t, 2, b.Len())
}

func TestTokenBucket_CleanupForgetsIdleKeys(t *testing.T) {
	b, clk := newTestBucket(0.01, 1, WithIdleTTL(time.Minute), WithCleanupEvery(0))
	ctx := context.Background()

	_, _ = b.Check(ctx, "old")
	clk.Advance(50 * time.Second)
	_, _ = b.Check(ctx, "fresh")
	clk.Advance(20 * time.Second)

	assert.Equal(t, 1, b.Cleanup())
	assert.Equal(t, 1, b.Len())

	// IP esquecido volta com o balde cheio
	dec, _ := b.Check(ctx, "old")
	assert.True(t, dec.Allowed)
}
