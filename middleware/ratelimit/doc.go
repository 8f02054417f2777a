// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, tier, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela deslizante, token bucket, Redis, semáforo)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo na API:
//
//  1. Extrai a chave (X-User-Id nas rotas autenticadas, IP nas públicas)
//  2. Chama a camada application para obter a decisão
//  3. Se bloqueado, responde 429 (rate limit) ou 503 (concorrência)
//  4. Se permitido, chama o próximo handler
//
// A configuração vem do arquivo YAML / variáveis de ambiente lidas em config,
// como RATE_WINDOW, RATE_FREE_MAX, CONCURRENCY_MAX e CONCURRENCY_TIMEOUT.
package ratelimit
