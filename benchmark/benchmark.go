// Package benchmark calcula os agregados de nota por gênero (média, mediana,
// quartis) usados para comparar uma faixa com o resto do gênero.
//
// O cálculo varre todas as críticas concluídas do gênero, então o resultado
// fica no cache TTL e só é refeito quando expira ou quando chega nota nova.
package benchmark

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"troubadour/cache"
	"troubadour/store"
)

// DefaultTTL é o tempo de vida de um rollup em cache.
const DefaultTTL = 10 * time.Minute

var ErrEmptyGenre = errors.New("benchmark: genre is required")

// ScoreSource é o pedaço do store que o benchmark usa.
type ScoreSource interface {
	GenreScores(ctx context.Context, genre string) (store.GenreScores, error)
}

type Rollup struct {
	Genre      string    `json:"genre"`
	Tracks     int       `json:"tracks"`
	Reviews    int       `json:"reviews"`
	Mean       float64   `json:"mean"`
	Median     float64   `json:"median"`
	P25        float64   `json:"p25"`
	P75        float64   `json:"p75"`
	P90        float64   `json:"p90"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	ComputedAt time.Time `json:"computed_at"`
}

// snapshot é o que vai para o cache: o rollup e as notas ordenadas, para
// Percentile não precisar voltar ao banco.
type snapshot struct {
	rollup Rollup
	scores []float64
}

type Service struct {
	src   ScoreSource
	cache *cache.TTL[snapshot]
	ttl   time.Duration
	now   func() time.Time
}

func NewService(src ScoreSource, ttl time.Duration, opts ...cache.Option) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		src:   src,
		cache: cache.New[snapshot](ttl, opts...),
		ttl:   ttl,
		now:   time.Now,
	}
}

// NormalizeGenre apara espaços e passa para minúsculas.
func NormalizeGenre(genre string) string {
	return strings.ToLower(strings.TrimSpace(genre))
}

func cacheKey(genre string) string { return "benchmark:" + genre }

// Genre devolve o rollup do gênero. Gênero sem críticas dá Reviews == 0.
func (s *Service) Genre(ctx context.Context, genre string) (Rollup, error) {
	snap, err := s.snapshot(ctx, genre)
	if err != nil {
		return Rollup{}, err
	}
	return snap.rollup, nil
}

// Percentile devolve a porcentagem (0-100) de críticas do gênero com nota
// estritamente menor que score.
func (s *Service) Percentile(ctx context.Context, genre string, score float64) (float64, error) {
	snap, err := s.snapshot(ctx, genre)
	if err != nil {
		return 0, err
	}
	if len(snap.scores) == 0 {
		return 0, nil
	}
	below := sort.SearchFloat64s(snap.scores, score)
	return round2(100 * float64(below) / float64(len(snap.scores))), nil
}

// Invalidate descarta o rollup do gênero (ex.: chegou nota nova).
func (s *Service) Invalidate(genre string) {
	s.cache.Delete(cacheKey(NormalizeGenre(genre)))
}

func (s *Service) CacheStats() cache.Stats { return s.cache.Stats() }

func (s *Service) StartJanitor(ctx context.Context, every time.Duration) {
	s.cache.StartJanitor(ctx, every)
}

func (s *Service) snapshot(ctx context.Context, genre string) (snapshot, error) {
	genre = NormalizeGenre(genre)
	if genre == "" {
		return snapshot{}, ErrEmptyGenre
	}
	return s.cache.GetOrSet(ctx, cacheKey(genre), s.ttl, func(ctx context.Context) (snapshot, error) {
		gs, err := s.src.GenreScores(ctx, genre)
		if err != nil {
			return snapshot{}, err
		}
		return compute(genre, gs, s.now()), nil
	})
}

func compute(genre string, gs store.GenreScores, at time.Time) snapshot {
	scores := append([]float64(nil), gs.Scores...)
	sort.Float64s(scores)

	r := Rollup{
		Genre:      genre,
		Tracks:     gs.Tracks,
		Reviews:    len(scores),
		ComputedAt: at.UTC(),
	}
	if len(scores) == 0 {
		return snapshot{rollup: r}
	}

	var sum float64
	for _, v := range scores {
		sum += v
	}
	r.Mean = round2(sum / float64(len(scores)))
	r.Median = round2(quantile(scores, 0.5))
	r.P25 = round2(quantile(scores, 0.25))
	r.P75 = round2(quantile(scores, 0.75))
	r.P90 = round2(quantile(scores, 0.9))
	r.Min = scores[0]
	r.Max = scores[len(scores)-1]
	return snapshot{rollup: r, scores: scores}
}

// quantile usa interpolação linear entre as posições vizinhas. sorted não pode ser vazio.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
