package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"troubadour/middleware/ratelimit/application"
	"troubadour/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

type Options struct {
	Limiter             domain.Limiter
	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	Logger              *zap.Logger
}

type limitHandler struct {
	next   http.Handler
	opts   Options
	policy application.Policy
}

// Middleware aplica opts.Limiter por chave. Negado responde RejectStatus (429)
// com Retry-After e corpo JSON; erro do limiter deixa passar.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	policy := application.Policy{Limiter: opts.Limiter, Fallback: opts.RetryAfter}

	return func(next http.Handler) http.Handler {
		return &limitHandler{next: next, opts: opts, policy: policy}
	}
}

func (h *limitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := domain.Key(h.opts.KeyFn(r))

	dec, err := h.policy.Decide(r.Context(), key)
	if err != nil {
		h.opts.Logger.Warn("rate limiter failed, allowing request",
			zap.String("key", string(key)),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	h.record(r, key, dec)

	if h.opts.AddRateLimitHeaders {
		setRateLimitHeaders(w.Header(), dec)
	}
	if dec.Allowed {
		h.next.ServeHTTP(w, r)
		return
	}

	secs := retryAfterSeconds(dec.RetryAfter)
	h.opts.Logger.Info("rate limited",
		zap.String("key", string(key)),
		zap.String("tier", string(dec.Tier)),
		zap.String("route", routePath(r)),
		zap.Int("retry_after", secs),
	)
	w.Header().Set("Retry-After", formatInt(secs))
	reject(w, h.opts.RejectStatus, secs)
}

// record é best-effort: falha no store de stats nunca muda a decisão.
func (h *limitHandler) record(r *http.Request, key domain.Key, dec domain.Decision) {
	if h.opts.Stats == nil {
		return
	}
	ev := domain.StatsEvent{
		Key:     key,
		Tier:    dec.Tier,
		Allowed: dec.Allowed,
		Method:  r.Method,
		Path:    routePath(r),
		At:      time.Now(),
	}
	if err := h.opts.Stats.Record(r.Context(), ev); err != nil {
		h.opts.Logger.Debug("rate limit stats record failed", zap.Error(err))
	}
}

// routePath usa o pattern do ServeMux ("/api/tracks/{id}/reviews") para não
// abrir um contador por id; sem pattern cai no path cru.
func routePath(r *http.Request) string {
	if r.Pattern == "" {
		return r.URL.Path
	}
	if _, p, ok := strings.Cut(r.Pattern, " "); ok {
		return p
	}
	return r.Pattern
}

func setRateLimitHeaders(h http.Header, dec domain.Decision) {
	if dec.Tier != "" {
		h.Set("X-RateLimit-Tier", string(dec.Tier))
	}
	if dec.Limit <= 0 {
		return
	}
	h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(max(dec.Remaining, 0)))
	if !dec.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", formatUnix(dec.ResetAt))
	}
}
