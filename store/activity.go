package store

import (
	"context"
	"fmt"
	"time"
)

// GenreScores são as notas de críticas concluídas de um gênero.
type GenreScores struct {
	Tracks int
	Scores []float64
}

// GenreScores devolve as notas em ordem crescente.
func (s *Store) GenreScores(ctx context.Context, genre string) (GenreScores, error) {
	rows, err := s.query(ctx, `
		SELECT r.track_id, r.overall_score
		FROM reviews r
		JOIN tracks t ON t.id = r.track_id
		WHERE t.genre = ? AND r.status = ?
		ORDER BY r.overall_score`, genre, ReviewCompleted)
	if err != nil {
		return GenreScores{}, fmt.Errorf("genre scores: %w", err)
	}
	defer rows.Close()

	var out GenreScores
	tracks := make(map[string]struct{})
	for rows.Next() {
		var (
			trackID string
			score   float64
		)
		if err := rows.Scan(&trackID, &score); err != nil {
			return GenreScores{}, fmt.Errorf("genre scores: %w", err)
		}
		tracks[trackID] = struct{}{}
		out.Scores = append(out.Scores, score)
	}
	if err := rows.Err(); err != nil {
		return GenreScores{}, fmt.Errorf("genre scores: %w", err)
	}
	out.Tracks = len(tracks)
	return out, nil
}

// ActiveUsers lista quem criou faixa ou pediu crítica em [from, to).
func (s *Store) ActiveUsers(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT user_id FROM reviews WHERE created_at >= ? AND created_at < ?
		UNION
		SELECT user_id FROM tracks WHERE created_at >= ? AND created_at < ?
		ORDER BY user_id`,
		toMillis(from), toMillis(to), toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("active users: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Activity é uma crítica concluída no período, com o título da faixa.
type Activity struct {
	ReviewID    string
	TrackID     string
	TrackTitle  string
	Score       float64
	CompletedAt time.Time
}

// UserActivity devolve as críticas concluídas do usuário em [from, to).
func (s *Store) UserActivity(ctx context.Context, userID string, from, to time.Time) ([]Activity, error) {
	rows, err := s.query(ctx, `
		SELECT r.id, t.id, t.title, r.overall_score, r.completed_at
		FROM reviews r
		JOIN tracks t ON t.id = r.track_id
		WHERE r.user_id = ? AND r.status = ? AND r.completed_at >= ? AND r.completed_at < ?
		ORDER BY r.completed_at`,
		userID, ReviewCompleted, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("user activity: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var (
			a         Activity
			completed int64
		)
		if err := rows.Scan(&a.ReviewID, &a.TrackID, &a.TrackTitle, &a.Score, &completed); err != nil {
			return nil, fmt.Errorf("user activity: %w", err)
		}
		a.CompletedAt = fromMillis(completed)
		out = append(out, a)
	}
	return out, rows.Err()
}
