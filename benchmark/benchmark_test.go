package benchmark

import (
	"context"
	"errors"
	"testing"
	"time"

	"troubadour/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	scores map[string]store.GenreScores
	calls  map[string]int
	err    error
}

func (f *fakeSource) GenreScores(_ context.Context, genre string) (store.GenreScores, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[genre]++
	if f.err != nil {
		return store.GenreScores{}, f.err
	}
	return f.scores[genre], nil
}

func TestGenre_ComputesRollup(t *testing.T) {
	src := &fakeSource{scores: map[string]store.GenreScores{
		"rock": {Tracks: 3, Scores: []float64{9, 5, 7, 6, 8}},
	}}
	svc := NewService(src, time.Minute)

	r, err := svc.Genre(context.Background(), "  Rock ")
	require.NoError(t, err)
	assert.Equal(t, "rock", r.Genre)
	assert.Equal(t, 3, r.Tracks)
	assert.Equal(t, 5, r.Reviews)
	assert.Equal(t, 7.0, r.Mean)
	assert.Equal(t, 7.0, r.Median)
	assert.Equal(t, 6.0, r.P25)
	assert.Equal(t, 8.0, r.P75)
	assert.Equal(t, 8.6, r.P90)
	assert.Equal(t, 5.0, r.Min)
	assert.Equal(t, 9.0, r.Max)
}

func TestGenre_IsCachedUntilInvalidated(t *testing.T) {
	src := &fakeSource{scores: map[string]store.GenreScores{"jazz": {Tracks: 1, Scores: []float64{4}}}}
	svc := NewService(src, time.Hour)
	ctx := context.Background()

	_, _ = svc.Genre(ctx, "jazz")
	_, _ = svc.Genre(ctx, "JAZZ")
	_, _ = svc.Percentile(ctx, "jazz", 5)
	assert.Equal(t, 1, src.calls["jazz"])

	svc.Invalidate(" Jazz")
	_, _ = svc.Genre(ctx, "jazz")
	assert.Equal(t, 2, src.calls["jazz"])

	stats := svc.CacheStats()
	assert.Equal(t, int64(2), stats.Hits)
}

func TestGenre_UnknownGenreIsEmpty(t *testing.T) {
	svc := NewService(&fakeSource{}, 0)

	r, err := svc.Genre(context.Background(), "polka")
	require.NoError(t, err)
	assert.Zero(t, r.Reviews)
	assert.Zero(t, r.Mean)

	p, err := svc.Percentile(context.Background(), "polka", 5)
	require.NoError(t, err)
	assert.Zero(t, p)
}

func TestGenre_EmptyGenre(t *testing.T) {
	svc := NewService(&fakeSource{}, 0)
	_, err := svc.Genre(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyGenre)
}

func TestGenre_SourceErrorIsNotCached(t *testing.T) {
	src := &fakeSource{err: errors.New("db gone")}
	svc := NewService(src, time.Hour)
	ctx := context.Background()

	_, err := svc.Genre(ctx, "rock")
	require.Error(t, err)

	src.err = nil
	_, err = svc.Genre(ctx, "rock")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls["rock"])
}

func TestPercentile_StrictlyBelow(t *testing.T) {
	src := &fakeSource{scores: map[string]store.GenreScores{"pop": {Tracks: 4, Scores: []float64{2, 4, 6, 8}}}}
	svc := NewService(src, time.Minute)
	ctx := context.Background()

	cases := map[float64]float64{1: 0, 2: 0, 5: 50, 8: 75, 9.5: 100}
	for score, want := range cases {
		got, err := svc.Percentile(ctx, "pop", score)
		require.NoError(t, err)
		assert.Equal(t, want, got, "score %v", score)
	}
}

func TestQuantile(t *testing.T) {
	assert.Equal(t, 3.0, quantile([]float64{3}, 0.9))
	assert.Equal(t, 1.5, quantile([]float64{1, 2}, 0.5))
	assert.Equal(t, 10.0, quantile([]float64{0, 10}, 1))
}
