package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Method/Path são strings genéricas; Tier vem vazio para rotas públicas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de chaves no Redis).
type StatsEvent struct {
	Key     Key
	Tier    Tier
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// O middleware trata erro como best-effort (loga e não derruba o request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
