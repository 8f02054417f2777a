// Package server monta a API HTTP do Troubadour.
//
// Rotas públicas (benchmarks) passam pelo token bucket por IP. A submissão
// de crítica, que dispara o LLM, passa pela janela deslizante do tier do
// usuário e depois pelo limite de concorrência.
package server

import (
	"context"
	"net/http"
	"time"

	"troubadour/accounts"
	"troubadour/benchmark"
	"troubadour/middleware/ratelimit"
	"troubadour/middleware/ratelimit/application"
	"troubadour/middleware/ratelimit/domain"
	"troubadour/middleware/ratelimit/infra"
	"troubadour/store"

	"go.uber.org/zap"
)

type Options struct {
	Store      *store.Store
	Benchmarks *benchmark.Service
	Tiers      *accounts.Resolver

	// Reviews limita POST /api/tracks/{id}/reviews por usuário.
	Reviews domain.Limiter
	// Public limita as rotas de benchmark por IP.
	Public domain.Limiter

	// Stats recebe as decisões; Counters é o que a rota de admin mostra.
	Stats    domain.StatsStore
	Counters *infra.MemoryStatsStore

	// Cluster, quando presente, traz os totais somados entre instâncias.
	Cluster ClusterStats

	// Gate limita os requests de submissão simultâneos; nil desliga.
	Gate *application.Gate

	// AdminToken protege /api/admin/* e o callback de nota do worker
	// (Authorization: Bearer). Vazio desliga essas rotas.
	AdminToken string

	RetryAfter time.Duration
	AddHeaders bool
	TrustXFF   bool

	Logger *zap.Logger
}

// ClusterStats é implementado por infra.RedisStatsStore.
type ClusterStats interface {
	Totals(ctx context.Context) (infra.Counters, error)
}

type Server struct {
	store      *store.Store
	benchmarks *benchmark.Service
	tiers      *accounts.Resolver
	counters   *infra.MemoryStatsStore
	cluster    ClusterStats
	gate       *application.Gate
	adminToken string
	logger     *zap.Logger
	handler    http.Handler
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		store:      opts.Store,
		benchmarks: opts.Benchmarks,
		tiers:      opts.Tiers,
		counters:   opts.Counters,
		cluster:    opts.Cluster,
		gate:       opts.Gate,
		adminToken: opts.AdminToken,
		logger:     opts.Logger,
	}

	public := ratelimit.Middleware(ratelimit.Options{
		Limiter:             opts.Public,
		Stats:               opts.Stats,
		KeyFn:               ratelimit.DefaultKeyFunc("", opts.TrustXFF),
		RetryAfter:          opts.RetryAfter,
		AddRateLimitHeaders: opts.AddHeaders,
		Logger:              opts.Logger,
	})
	perUser := ratelimit.Middleware(ratelimit.Options{
		Limiter:             opts.Reviews,
		Stats:               opts.Stats,
		KeyFn:               ratelimit.UserKeyFunc(ratelimit.UserHeader),
		RetryAfter:          opts.RetryAfter,
		AddRateLimitHeaders: opts.AddHeaders,
		Logger:              opts.Logger,
	})
	inFlight := ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Gate:       opts.Gate,
		RetryAfter: opts.RetryAfter,
		Logger:     opts.Logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("GET /api/benchmarks/{genre}", public(http.HandlerFunc(s.handleBenchmark)))
	mux.Handle("GET /api/benchmarks/{genre}/percentile", public(http.HandlerFunc(s.handlePercentile)))

	mux.Handle("POST /api/tracks", s.requireUser(http.HandlerFunc(s.handleCreateTrack)))
	// a cota é checada antes de qualquer escrita no banco
	mux.Handle("POST /api/tracks/{id}/reviews",
		s.identify(perUser(s.ensureUser(inFlight(http.HandlerFunc(s.handleSubmitReview))))))

	mux.Handle("POST /api/reviews/{id}/score", s.requireAdmin(http.HandlerFunc(s.handleScore)))
	mux.Handle("GET /api/admin/ratelimit/stats", s.requireAdmin(http.HandlerFunc(s.handleStats)))
	mux.Handle("PUT /api/admin/users/{id}/tier", s.requireAdmin(http.HandlerFunc(s.handleSetTier)))

	s.handler = s.logRequests(mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// statusRecorder guarda o status para o log de acesso.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
