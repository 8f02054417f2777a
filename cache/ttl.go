package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL é usado quando New recebe ttl <= 0.
const DefaultTTL = 5 * time.Minute

var ErrNilLoader = errors.New("cache: GetOrSet requires a loader")

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL é seguro para uso concorrente. O valor zero não serve; use New.
type TTL[V any] struct {
	mu         sync.Mutex
	items      map[string]entry[V]
	defaultTTL time.Duration
	now        func() time.Time
	observer   Observer
	group      singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

type settings struct {
	now      func() time.Time
	observer Observer
}

type Option func(*settings)

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}

func New[V any](defaultTTL time.Duration, opts ...Option) *TTL[V] {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	st := settings{now: time.Now}
	for _, opt := range opts {
		opt(&st)
	}
	return &TTL[V]{
		items:      make(map[string]entry[V]),
		defaultTTL: defaultTTL,
		now:        st.now,
		observer:   st.observer,
	}
}

// Get devolve o valor enquanto now < expiresAt. Entrada vencida é removida.
func (c *TTL[V]) Get(key string) (V, bool) {
	v, ok, evicted := c.lookup(key)
	if evicted {
		c.emit(EventEvict, key)
	}
	if ok {
		c.hits.Add(1)
		c.emit(EventHit, key)
		return v, true
	}
	c.misses.Add(1)
	c.emit(EventMiss, key)
	return v, false
}

func (c *TTL[V]) lookup(key string) (v V, ok bool, evicted bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.items[key]
	if !found {
		return v, false, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.items, key)
		return v, false, true
	}
	return e.value, true, false
}

// Set grava com o TTL padrão.
func (c *TTL[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL grava com expiresAt = now + ttl; ttl <= 0 usa o TTL padrão.
func (c *TTL[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: expiresAt}
	c.mu.Unlock()

	c.emit(EventSet, key)
}

func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *TTL[V]) Clear() {
	c.mu.Lock()
	clear(c.items)
	c.mu.Unlock()
}

// Len conta as entradas guardadas, inclusive vencidas ainda não removidas.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// GetOrSet devolve o valor em cache ou chama fn, grava o resultado e o devolve.
// Erro de fn é devolvido e não fica em cache. Chamadas concorrentes para a
// mesma chave ausente compartilham uma única execução de fn.
func (c *TTL[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	var zero V
	if fn == nil {
		return zero, ErrNilLoader
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		// outro chamador pode ter preenchido a chave enquanto esperávamos
		if v, ok, _ := c.lookup(key); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.SetWithTTL(key, v, ttl)
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// Sweep remove todas as entradas vencidas e devolve quantas saíram.
func (c *TTL[V]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	var evicted []string
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			evicted = append(evicted, k)
		}
	}
	c.mu.Unlock()

	for _, k := range evicted {
		c.emit(EventEvict, k)
	}
	return len(evicted)
}

// StartJanitor chama Sweep a cada `every` até ctx encerrar. every <= 0 não faz nada.
func (c *TTL[V]) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Sweep()
			}
		}
	}()
}

// Stats são contadores desde a criação do cache.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

func (c *TTL[V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.Len()}
}

func (c *TTL[V]) emit(ev Event, key string) {
	if c.observer == nil {
		return
	}
	c.observer.OnCacheEvent(ev, key)
}
