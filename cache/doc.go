// Package cache implementa um cache chave-valor em memória com expiração por TTL.
//
// Cada entrada carrega um instante absoluto de expiração. Leituras conferem a
// expiração e removem a entrada vencida na hora (remoção preguiçosa); Sweep e
// StartJanitor só antecipam essa limpeza. Não há política de descarte além do
// TTL: sem LRU e sem limite de tamanho.
//
// GetOrSet torna o cache transparente para quem calcula agregados caros:
//
//	rollup, err := c.GetOrSet(ctx, "benchmark:rock", 10*time.Minute, compute)
//
// Chamadas concorrentes com a mesma chave ausente executam o loader uma vez só.
package cache
