package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"troubadour/middleware/ratelimit/application"
	"troubadour/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postReview(ctx context.Context, h http.Handler) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "http://example/api/tracks/t1/reviews", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestConcurrencyMiddleware_BusyWhenSlotsTaken(t *testing.T) {
	gate := application.NewGate(infra.NewSlots(1), 20*time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusAccepted)
	})
	h := ConcurrencyMiddleware(ConcurrencyOptions{Gate: gate, RetryAfter: 2 * time.Second})(slow)

	first := make(chan int, 1)
	go func() { first <- postReview(context.Background(), h).Code }()
	<-entered

	w := postReview(context.Background(), h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"error"`)
	assert.Equal(t, application.GateStats{InFlight: 1, Rejected: 1}, gate.Stats())

	close(release)
	require.Equal(t, http.StatusAccepted, <-first)
	assert.Equal(t, 0, gate.Stats().InFlight)
}

func TestConcurrencyMiddleware_ClientGaveUp(t *testing.T) {
	slots := infra.NewSlots(1)
	hold, _ := slots.Acquire(context.Background())
	defer hold()

	gate := application.NewGate(slots, 0)
	calls := 0
	h := ConcurrencyMiddleware(ConcurrencyOptions{Gate: gate})(okHandler(&calls))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	w := postReview(ctx, h)

	assert.Zero(t, calls)
	assert.Empty(t, w.Body.String(), "ninguém para ler a resposta")
	assert.Zero(t, gate.Stats().Rejected)
}

func TestConcurrencyMiddleware_DisabledPassesThrough(t *testing.T) {
	calls := 0
	h := ConcurrencyMiddleware(ConcurrencyOptions{})(okHandler(&calls))

	for range 3 {
		w := postReview(context.Background(), h)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 3, calls)
}

func TestConcurrencyMiddleware_SlotLastsForTheRequest(t *testing.T) {
	gate := application.NewGate(infra.NewSlots(2), time.Second)
	var during int
	h := ConcurrencyMiddleware(ConcurrencyOptions{Gate: gate})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = gate.Stats().InFlight
		w.WriteHeader(http.StatusAccepted)
	}))

	w := postReview(context.Background(), h)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, during)
	assert.Equal(t, 0, gate.Stats().InFlight, "slot is returned with the response")
}
