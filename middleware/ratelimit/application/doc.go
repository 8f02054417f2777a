// Package application guarda as regras de decisão do rate limit, sem net/http.
//
// Policy normaliza a decisão de um Limiter e TieredLimiter escolhe a cota pelo
// plano do usuário. Gate segura as críticas em voo.
package application
