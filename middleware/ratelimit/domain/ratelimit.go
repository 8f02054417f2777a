package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

// Key identifica quem está sendo limitado (id do usuário, IP, API key).
type Key string

// Tier é o nível de assinatura do usuário. Cada tier tem sua própria cota.
type Tier string

const (
	TierFree   Tier = "free"
	TierArtist Tier = "artist"
	TierPro    Tier = "pro"
)

// ParseTier normaliza um valor vindo do banco/header. Desconhecido vira free.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierArtist, TierPro:
		return Tier(s)
	default:
		return TierFree
	}
}

// Valid informa se t é um dos tiers conhecidos.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierArtist, TierPro:
		return true
	}
	return false
}

// Limiter decide se mais uma requisição da chave cabe agora.
//
// Observação: a implementação pode ser janela deslizante, token-bucket, etc.
// Um Limiter que aceita a requisição já a contabiliza.
type Limiter interface {
	Check(ctx context.Context, key Key) (Decision, error)
}

// LimiterFunc adapta uma função para Limiter.
type LimiterFunc func(ctx context.Context, key Key) (Decision, error)

func (f LimiterFunc) Check(ctx context.Context, key Key) (Decision, error) { return f(ctx, key) }

// TierResolver descobre o tier de uma chave (normalmente o id do usuário).
type TierResolver interface {
	Tier(ctx context.Context, key Key) (Tier, error)
}

type Decision struct {
	Allowed bool
	// Tier é preenchido quando a decisão passou por um limiter por tier.
	Tier Tier

	// Limit é o máximo de requisições na janela. 0 quando o limiter não tem
	// essa noção (ex.: token bucket sem cota fixa).
	Limit     int
	Remaining int
	// ResetAt é quando a próxima vaga abre (o timestamp mais antigo sai da janela).
	ResetAt time.Time

	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
