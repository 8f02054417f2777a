package application

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"troubadour/middleware/ratelimit/domain"
)

// ErrBusy indica que nenhuma vaga de crítica abriu dentro do tempo de espera.
var ErrBusy = errors.New("critique gate: no free slot")

// Gate controla quantos requests de submissão de crítica rodam ao mesmo tempo.
// InFlight conta requests, não análises pendentes no worker. Não conhece HTTP.
type Gate struct {
	pool     domain.SlotPool
	wait     time.Duration
	rejected atomic.Int64
}

// NewGate usa pool para as vagas. wait <= 0 espera até o chamador desistir.
func NewGate(pool domain.SlotPool, wait time.Duration) *Gate {
	return &Gate{pool: pool, wait: wait}
}

// Enter espera uma vaga. Devolve ErrBusy quando o tempo de espera acabou e
// ctx.Err() quando foi o chamador que desistiu; só ErrBusy conta como rejeição.
// Gate nil ou sem pool deixa passar.
func (g *Gate) Enter(ctx context.Context) (leave func(), err error) {
	if g == nil || g.pool == nil {
		return func() {}, nil
	}

	acqCtx := ctx
	if g.wait > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, g.wait)
		defer cancel()
	}

	leave, ok := g.pool.Acquire(acqCtx)
	if ok {
		return leave, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.rejected.Add(1)
	return nil, ErrBusy
}

// GateStats é a foto do gate para a rota de admin.
type GateStats struct {
	InFlight int   `json:"in_flight"`
	Rejected int64 `json:"rejected"`
}

func (g *Gate) Stats() GateStats {
	if g == nil || g.pool == nil {
		return GateStats{}
	}
	return GateStats{InFlight: g.pool.InUse(), Rejected: g.rejected.Load()}
}
