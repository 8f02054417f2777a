package infra

import (
	"context"
	"maps"
	"sync"

	"troubadour/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// MemoryStatsStore guarda contadores em memória; é o que a rota de admin expõe.
//
// Não faz expiração. byKey só é preenchido com WithTrackKeys(true).
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byTier  map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute: make(map[string]Counters),
		byTier:  make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)
	bump(s.byRoute, route, ev.Allowed)
	if ev.Tier != "" {
		bump(s.byTier, string(ev.Tier), ev.Allowed)
	}
	if s.trackKeys {
		bump(s.byKey, string(ev.Key), ev.Allowed)
	}
	return nil
}

func bump(m map[string]Counters, k string, allowed bool) {
	c := m[k]
	c.add(allowed)
	m[k] = c
}

// Snapshot é a visão serializável dos contadores.
type Snapshot struct {
	Total   Counters            `json:"total"`
	ByRoute map[string]Counters `json:"by_route"`
	ByTier  map[string]Counters `json:"by_tier"`
	ByKey   map[string]Counters `json:"by_key,omitempty"`
}

func (s *MemoryStatsStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Total:   s.total,
		ByRoute: maps.Clone(s.byRoute),
		ByTier:  maps.Clone(s.byTier),
	}
	if s.trackKeys {
		snap.ByKey = maps.Clone(s.byKey)
	}
	return snap
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
