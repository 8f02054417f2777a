// Package accounts resolve o tier de assinatura dos usuários para o rate limit.
package accounts

import (
	"context"
	"errors"
	"time"

	"troubadour/cache"
	"troubadour/middleware/ratelimit/domain"
	"troubadour/store"
)

// DefaultTierTTL é por quanto tempo o tier lido do banco fica em cache.
const DefaultTierTTL = time.Minute

// TierSource é o pedaço do store usado pelo Resolver.
type TierSource interface {
	UserTier(ctx context.Context, id string) (string, error)
}

// Resolver implementa domain.TierResolver lendo do store através do cache TTL.
// Usuário desconhecido é free (e esse resultado também fica em cache).
type Resolver struct {
	src   TierSource
	cache *cache.TTL[domain.Tier]
}

func NewResolver(src TierSource, ttl time.Duration, opts ...cache.Option) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTierTTL
	}
	return &Resolver{src: src, cache: cache.New[domain.Tier](ttl, opts...)}
}

func (r *Resolver) Tier(ctx context.Context, key domain.Key) (domain.Tier, error) {
	return r.cache.GetOrSet(ctx, string(key), 0, func(ctx context.Context) (domain.Tier, error) {
		raw, err := r.src.UserTier(ctx, string(key))
		if errors.Is(err, store.ErrNotFound) {
			return domain.TierFree, nil
		}
		if err != nil {
			return "", err
		}
		return domain.ParseTier(raw), nil
	})
}

// Forget descarta o tier em cache (ex.: upgrade de plano).
func (r *Resolver) Forget(userID string) {
	r.cache.Delete(userID)
}

func (r *Resolver) CacheStats() cache.Stats { return r.cache.Stats() }

// StartJanitor varre tiers expirados a cada every até ctx acabar.
func (r *Resolver) StartJanitor(ctx context.Context, every time.Duration) {
	r.cache.StartJanitor(ctx, every)
}
