package application

import (
	"context"

	"troubadour/middleware/ratelimit/domain"
)

// TieredLimiter é um domain.Limiter que delega para o limiter do tier do usuário.
// Tier sem limiter configurado cai no de TierFree.
type TieredLimiter struct {
	Resolver domain.TierResolver
	Limiters map[domain.Tier]domain.Limiter

	// OnResolveError é chamado quando o tier não pôde ser resolvido; a cota
	// free é aplicada nesse caso.
	OnResolveError func(key domain.Key, err error)
}

func NewTieredLimiter(resolver domain.TierResolver, limiters map[domain.Tier]domain.Limiter) *TieredLimiter {
	return &TieredLimiter{Resolver: resolver, Limiters: limiters}
}

// TierOf devolve o tier da chave (free quando não há resolver ou ele falha).
func (t *TieredLimiter) TierOf(ctx context.Context, key domain.Key) domain.Tier {
	if t.Resolver == nil {
		return domain.TierFree
	}
	tier, err := t.Resolver.Tier(ctx, key)
	if err != nil {
		if t.OnResolveError != nil {
			t.OnResolveError(key, err)
		}
		return domain.TierFree
	}
	return tier
}

// Check implementa domain.Limiter.
func (t *TieredLimiter) Check(ctx context.Context, key domain.Key) (domain.Decision, error) {
	tier := t.TierOf(ctx, key)

	lim, ok := t.Limiters[tier]
	if !ok || lim == nil {
		tier = domain.TierFree
		lim = t.Limiters[domain.TierFree]
	}
	if lim == nil {
		return domain.Decision{Allowed: true, Tier: tier}, nil
	}

	// O tier entra na chave para que trocar de plano não herde o histórico do anterior.
	dec, err := lim.Check(ctx, domain.Key(string(tier)+":"+string(key)))
	dec.Tier = tier
	return dec, err
}
