package infra

import (
	"context"
	"sync"
	"time"

	"troubadour/middleware/ratelimit/domain"
)

// DefaultSweepEvery é o intervalo padrão da varredura de chaves vazias.
const DefaultSweepEvery = 5 * time.Minute

// SlidingWindow guarda, por chave, a lista ordenada de timestamps das
// requisições aceitas dentro da janela.
//
// É um limitador em memória de um único processo: não há consistência entre
// instâncias e o estado zera no restart. Para várias instâncias use RedisWindow.
type SlidingWindow struct {
	mu          sync.Mutex
	hits        map[domain.Key][]time.Time
	maxRequests int
	window      time.Duration
	sweepEvery  time.Duration
	now         func() time.Time
}

type WindowOption func(*SlidingWindow)

func WithSweepEvery(d time.Duration) WindowOption {
	return func(s *SlidingWindow) { s.sweepEvery = d }
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) WindowOption {
	return func(s *SlidingWindow) { s.now = now }
}

func NewSlidingWindow(maxRequests int, window time.Duration, opts ...WindowOption) *SlidingWindow {
	s := &SlidingWindow{
		hits:        make(map[domain.Key][]time.Time),
		maxRequests: maxRequests,
		window:      window,
		sweepEvery:  DefaultSweepEvery,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SlidingWindow) Limit() int            { return s.maxRequests }
func (s *SlidingWindow) Window() time.Duration { return s.window }

// Check implementa domain.Limiter.
//
// Descarta timestamps com idade >= window; se o que sobrou já atingiu
// maxRequests, rejeita sem registrar; senão registra now e aceita.
func (s *SlidingWindow) Check(_ context.Context, key domain.Key) (domain.Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := prune(s.hits[key], now.Add(-s.window))
	if len(kept) >= s.maxRequests {
		s.put(key, kept)
		dec := domain.Decision{Allowed: false, Limit: max(s.maxRequests, 0)}
		if len(kept) > 0 {
			dec.ResetAt = kept[0].Add(s.window)
			dec.RetryAfter = dec.ResetAt.Sub(now)
		}
		return dec, nil
	}

	kept = append(kept, now)
	s.hits[key] = kept
	return domain.Decision{
		Allowed:   true,
		Limit:     s.maxRequests,
		Remaining: s.maxRequests - len(kept),
		ResetAt:   kept[0].Add(s.window),
	}, nil
}

// Reset esquece todo o histórico da chave.
func (s *SlidingWindow) Reset(key domain.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hits, key)
}

// Len retorna quantas chaves estão sendo rastreadas.
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

// Sweep poda todas as chaves e remove as que ficaram vazias.
// Retorna quantas chaves foram removidas.
func (s *SlidingWindow) Sweep() int {
	cutoff := s.now().Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ts := range s.hits {
		kept := prune(ts, cutoff)
		if len(kept) == 0 {
			delete(s.hits, k)
			removed++
			continue
		}
		s.hits[k] = kept
	}
	return removed
}

// StartJanitor inicia a varredura periódica (padrão a cada 5 minutos).
// Pare cancelando o contexto.
func (s *SlidingWindow) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.sweepEvery, func() { s.Sweep() })
}

func (s *SlidingWindow) put(key domain.Key, ts []time.Time) {
	if len(ts) == 0 {
		delete(s.hits, key)
		return
	}
	s.hits[key] = ts
}

// prune remove, no lugar, os timestamps <= cutoff. ts está em ordem crescente.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	n := copy(ts, ts[i:])
	return ts[:n]
}
