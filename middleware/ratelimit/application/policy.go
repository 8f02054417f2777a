package application

import (
	"context"
	"time"

	"troubadour/middleware/ratelimit/domain"
)

// Policy transforma a resposta crua de um Limiter na decisão que o HTTP usa.
// Não conhece headers nem status.
//
// Falha do limiter deixa passar: a cota de críticas segura abuso e não é
// cobrança, então o erro volta só para ser logado.
type Policy struct {
	Limiter domain.Limiter
	// Fallback é o Retry-After quando o limiter nega sem dizer quanto esperar.
	Fallback time.Duration
	Now      func() time.Time
}

func (p Policy) Decide(ctx context.Context, key domain.Key) (domain.Decision, error) {
	if p.Limiter == nil {
		return domain.Decision{Allowed: true}, nil
	}

	dec, err := p.Limiter.Check(ctx, key)
	switch {
	case err != nil:
		return domain.Decision{Allowed: true, Tier: dec.Tier}, err
	case dec.Allowed:
		dec.RetryAfter = 0
		return dec, nil
	}

	if dec.RetryAfter <= 0 {
		dec.RetryAfter = p.Fallback
		if dec.RetryAfter <= 0 {
			dec.RetryAfter = time.Second
		}
	}
	dec.Remaining = 0
	if dec.ResetAt.IsZero() {
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		dec.ResetAt = now().Add(dec.RetryAfter)
	}
	return dec, nil
}
