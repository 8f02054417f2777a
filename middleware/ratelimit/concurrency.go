package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"troubadour/middleware/ratelimit/application"

	"go.uber.org/zap"
)

type ConcurrencyOptions struct {
	// Gate nil desliga o limite.
	Gate         *application.Gate
	RejectStatus int
	// RetryAfter vai no header quando o gate está cheio (padrão 1s).
	RetryAfter time.Duration
	Logger     *zap.Logger
}

// ConcurrencyMiddleware só deixa o request seguir com uma vaga do gate. A vaga
// dura o request: limita submissões processadas ao mesmo tempo, não a análise
// que o worker faz depois do 202.
// Gate cheio responde RejectStatus (503); cliente que desistiu na espera não
// recebe resposta.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Gate == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			leave, err := opts.Gate.Enter(r.Context())
			if errors.Is(err, application.ErrBusy) {
				opts.Logger.Warn("critique slots exhausted",
					zap.String("path", r.URL.Path),
					zap.Int("in_flight", opts.Gate.Stats().InFlight),
				)
				secs := retryAfterSeconds(opts.RetryAfter)
				w.Header().Set("Retry-After", formatInt(secs))
				reject(w, opts.RejectStatus, secs)
				return
			}
			if err != nil {
				opts.Logger.Debug("client gave up waiting for a slot", zap.Error(err))
				return
			}
			defer leave()

			next.ServeHTTP(w, r)
		})
	}
}
