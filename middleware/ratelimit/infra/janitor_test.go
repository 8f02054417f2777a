package infra

import (
	"context"
	"testing"
	"time"

	"troubadour/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestSlidingWindow_JanitorSweepsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := NewSlidingWindow(1, time.Millisecond, WithSweepEvery(5*time.Millisecond))
	_, _ = w.Check(context.Background(), domain.Key("u1"))

	ctx, cancel := context.WithCancel(context.Background())
	w.StartJanitor(ctx)

	assert.Eventually(t, func() bool { return w.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestTokenBucket_JanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewTokenBucket(10, 1, WithIdleTTL(time.Millisecond), WithCleanupEvery(5*time.Millisecond))
	_, _ = b.Check(context.Background(), domain.Key("10.0.0.1"))

	ctx, cancel := context.WithCancel(context.Background())
	b.StartJanitor(ctx)

	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestStartJanitor_DisabledWhenEveryIsZero(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := NewSlidingWindow(1, time.Minute, WithSweepEvery(0))
	w.StartJanitor(context.Background())
}
