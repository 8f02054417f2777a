package infra

import (
	"context"
	"sync"
)

// Slots é um semáforo em channel com n vagas. Implementa domain.SlotPool.
type Slots struct {
	sem chan struct{}
}

// NewSlots cria o semáforo; n < 1 vira 1.
func NewSlots(n int) *Slots {
	return &Slots{sem: make(chan struct{}, max(n, 1))}
}

// Acquire bloqueia até abrir uma vaga ou ctx acabar. O release devolvido é
// idempotente: só a primeira chamada libera a vaga.
func (s *Slots) Acquire(ctx context.Context) (func(), bool) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { <-s.sem }) }, true
}

func (s *Slots) InUse() int { return len(s.sem) }

func (s *Slots) Cap() int { return cap(s.sem) }
