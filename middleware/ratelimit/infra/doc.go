// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - SlidingWindow: janela deslizante por usuário, em memória, com varredura periódica
//   - RedisWindow: a mesma janela num sorted set do Redis (várias instâncias)
//   - TokenBucket: token bucket por IP usando golang.org/x/time/rate
//   - Slots: semáforo das submissões de crítica em voo
//   - MemoryStatsStore / RedisStatsStore / MultiStatsStore: contadores de allow/deny
package infra
