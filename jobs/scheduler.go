// Package jobs roda as tarefas periódicas do backend: o digest semanal por
// usuário e o alerta interno de churn.
package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler dispara cada job numa goroutine própria.
type Scheduler struct {
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Start inicia os jobs; eles param quando ctx encerrar. Job com Every <= 0 é ignorado.
func (s *Scheduler) Start(ctx context.Context, jobs ...Job) {
	for _, job := range jobs {
		if job.Every <= 0 || job.Run == nil {
			s.logger.Info("job disabled", zap.String("job", job.Name))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("job started", zap.String("job", job.Name), zap.Duration("every", job.Every))
			RunEvery(ctx, job.Every, job.Run, func(err error) {
				s.logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
			})
		}()
	}
}

// Wait bloqueia até todos os jobs pararem.
func (s *Scheduler) Wait() { s.wg.Wait() }

// RunEvery roda fn na hora e depois a cada tick, até ctx encerrar.
// Erro de fn vai para onErr e não interrompe o loop.
func RunEvery(ctx context.Context, every time.Duration, fn func(context.Context) error, onErr func(error)) {
	run := func() {
		if err := fn(ctx); err != nil && onErr != nil && ctx.Err() == nil {
			onErr(err)
		}
	}

	run()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}
