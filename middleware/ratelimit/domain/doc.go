// Package domain define contratos e tipos de domínio para rate limit e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Janela deslizante, token bucket e a variante em Redis ficam em infra; aqui só
// ficam a chave, a decisão e as interfaces que a aplicação consome.
package domain
