package domain

import "context"

// SlotPool limita quantas submissões de crítica ficam em voo ao mesmo tempo
// (cada uma segura uma chamada cara ao provedor de análise de áudio).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	// InUse informa quantas vagas estão ocupadas agora.
	InUse() int
}
