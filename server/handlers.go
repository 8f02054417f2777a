package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"troubadour/benchmark"
	"troubadour/cache"
	"troubadour/middleware/ratelimit/application"
	"troubadour/middleware/ratelimit/domain"
	"troubadour/middleware/ratelimit/infra"
	"troubadour/store"

	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	rollup, err := s.benchmarks.Genre(r.Context(), r.PathValue("genre"))
	if err != nil {
		s.benchmarkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

type percentileResponse struct {
	Genre      string  `json:"genre"`
	Score      float64 `json:"score"`
	Percentile float64 `json:"percentile"`
}

func (s *Server) handlePercentile(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("score")
	score, err := strconv.ParseFloat(raw, 64)
	// ParseFloat aceita "NaN" e "Inf", que o JSON não serializa
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		writeError(w, http.StatusBadRequest, "score query parameter must be a finite number")
		return
	}
	genre := benchmark.NormalizeGenre(r.PathValue("genre"))
	p, err := s.benchmarks.Percentile(r.Context(), genre, score)
	if err != nil {
		s.benchmarkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, percentileResponse{Genre: genre, Score: score, Percentile: p})
}

func (s *Server) benchmarkError(w http.ResponseWriter, err error) {
	if errors.Is(err, benchmark.ErrEmptyGenre) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("benchmark failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

type createTrackRequest struct {
	Title string `json:"title"`
	Genre string `json:"genre"`
}

func (s *Server) handleCreateTrack(w http.ResponseWriter, r *http.Request) {
	var req createTrackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	genre := benchmark.NormalizeGenre(req.Genre)
	if title == "" || genre == "" {
		writeError(w, http.StatusBadRequest, "title and genre are required")
		return
	}

	track, err := s.store.CreateTrack(r.Context(), userFrom(r.Context()), title, genre)
	if err != nil {
		s.logger.Error("create track failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, track)
}

// handleSubmitReview enfileira a crítica. O worker de LLM consome a fila e
// devolve a nota por POST /api/reviews/{id}/score.
func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	track, err := s.store.Track(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "track not found")
		return
	}
	if err != nil {
		s.logger.Error("load track failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	review, err := s.store.CreateReview(r.Context(), track.ID, user)
	if err != nil {
		s.logger.Error("create review failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("review queued",
		zap.String("user", user),
		zap.String("track", track.ID),
		zap.String("review", review.ID),
	)
	writeJSON(w, http.StatusAccepted, review)
}

type scoreRequest struct {
	Score *float64 `json:"score"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Score == nil {
		writeError(w, http.StatusBadRequest, "score is required")
		return
	}

	review, err := s.store.CompleteReview(r.Context(), r.PathValue("id"), *req.Score)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "review not found")
		return
	case errors.Is(err, store.ErrInvalidScore):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("complete review failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	track, err := s.store.Track(r.Context(), review.TrackID)
	if err != nil {
		// a nota já foi gravada; o rollup só demora até o TTL
		s.logger.Warn("benchmark not invalidated", zap.String("track", review.TrackID), zap.Error(err))
	} else {
		s.benchmarks.Invalidate(track.Genre)
	}
	writeJSON(w, http.StatusOK, review)
}

type statsResponse struct {
	RateLimit      infra.Snapshot        `json:"ratelimit"`
	Cluster        *infra.Counters       `json:"cluster,omitempty"`
	Critiques      application.GateStats `json:"critiques"`
	BenchmarkCache cache.Stats           `json:"benchmark_cache"`
	TierCache      cache.Stats           `json:"tier_cache"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.counters == nil {
		writeError(w, http.StatusNotFound, "rate limit stats disabled")
		return
	}
	resp := statsResponse{
		RateLimit:      s.counters.Snapshot(),
		Critiques:      s.gate.Stats(),
		BenchmarkCache: s.benchmarks.CacheStats(),
	}
	if s.tiers != nil {
		resp.TierCache = s.tiers.CacheStats()
	}
	if s.cluster != nil {
		// o Redis fora do ar não derruba a rota; só some o bloco cluster
		if totals, err := s.cluster.Totals(r.Context()); err != nil {
			s.logger.Warn("cluster stats unavailable", zap.Error(err))
		} else {
			resp.Cluster = &totals
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type tierRequest struct {
	Tier string `json:"tier"`
}

type tierResponse struct {
	User string      `json:"user"`
	Tier domain.Tier `json:"tier"`
}

// handleSetTier troca o plano do usuário. O tier em cache é descartado para
// a nova cota valer já no próximo request.
func (s *Server) handleSetTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tier := domain.Tier(strings.ToLower(strings.TrimSpace(req.Tier)))
	if !tier.Valid() {
		writeError(w, http.StatusBadRequest, "tier must be free, artist or pro")
		return
	}

	id := r.PathValue("id")
	err := s.store.SetTier(r.Context(), id, string(tier))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.logger.Error("set tier failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if s.tiers != nil {
		s.tiers.Forget(id)
	}
	s.logger.Info("tier changed", zap.String("user", id), zap.String("tier", string(tier)))
	writeJSON(w, http.StatusOK, tierResponse{User: id, Tier: tier})
}
