package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

type Track struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Genre     string    `json:"genre"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	ReviewQueued    = "queued"
	ReviewCompleted = "completed"
)

type Review struct {
	ID          string     `json:"id"`
	TrackID     string     `json:"track_id"`
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	Score       *float64   `json:"score,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Store) CreateUser(ctx context.Context, email, tier string) (User, error) {
	if tier == "" {
		tier = "free"
	}
	u := User{ID: uuid.NewString(), Email: email, Tier: tier, CreatedAt: s.now().UTC()}
	_, err := s.exec(ctx,
		`INSERT INTO users (id, email, tier, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.Tier, toMillis(u.CreatedAt))
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// EnsureUser cria o usuário (tier free) se ele ainda não existir.
func (s *Store) EnsureUser(ctx context.Context, id string) error {
	_, err := s.exec(ctx,
		`INSERT INTO users (id, tier, created_at) VALUES (?, 'free', ?) ON CONFLICT (id) DO NOTHING`,
		id, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", id, err)
	}
	return nil
}

func (s *Store) SetTier(ctx context.Context, id, tier string) error {
	res, err := s.exec(ctx, `UPDATE users SET tier = ? WHERE id = ?`, tier, id)
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UserTier(ctx context.Context, id string) (string, error) {
	var tier string
	err := s.queryRow(ctx, `SELECT tier FROM users WHERE id = ?`, id).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("user tier: %w", err)
	}
	return tier, nil
}

func (s *Store) CreateTrack(ctx context.Context, userID, title, genre string) (Track, error) {
	t := Track{ID: uuid.NewString(), UserID: userID, Title: title, Genre: genre, CreatedAt: s.now().UTC()}
	_, err := s.exec(ctx,
		`INSERT INTO tracks (id, user_id, title, genre, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Genre, toMillis(t.CreatedAt))
	if err != nil {
		return Track{}, fmt.Errorf("create track: %w", err)
	}
	return t, nil
}

func (s *Store) Track(ctx context.Context, id string) (Track, error) {
	var (
		t       Track
		created int64
	)
	err := s.queryRow(ctx,
		`SELECT id, user_id, title, genre, created_at FROM tracks WHERE id = ?`, id,
	).Scan(&t.ID, &t.UserID, &t.Title, &t.Genre, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, ErrNotFound
	}
	if err != nil {
		return Track{}, fmt.Errorf("track %s: %w", id, err)
	}
	t.CreatedAt = fromMillis(created)
	return t, nil
}

// CreateReview enfileira uma crítica (status queued) para a faixa.
func (s *Store) CreateReview(ctx context.Context, trackID, userID string) (Review, error) {
	r := Review{
		ID:        uuid.NewString(),
		TrackID:   trackID,
		UserID:    userID,
		Status:    ReviewQueued,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.exec(ctx,
		`INSERT INTO reviews (id, track_id, user_id, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.TrackID, r.UserID, r.Status, toMillis(r.CreatedAt))
	if err != nil {
		return Review{}, fmt.Errorf("create review: %w", err)
	}
	return r, nil
}

func (s *Store) Review(ctx context.Context, id string) (Review, error) {
	var (
		r         Review
		score     sql.NullFloat64
		created   int64
		completed sql.NullInt64
	)
	err := s.queryRow(ctx,
		`SELECT id, track_id, user_id, status, overall_score, created_at, completed_at FROM reviews WHERE id = ?`, id,
	).Scan(&r.ID, &r.TrackID, &r.UserID, &r.Status, &score, &created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return Review{}, ErrNotFound
	}
	if err != nil {
		return Review{}, fmt.Errorf("review %s: %w", id, err)
	}
	r.CreatedAt = fromMillis(created)
	if score.Valid {
		r.Score = &score.Float64
	}
	if completed.Valid {
		at := fromMillis(completed.Int64)
		r.CompletedAt = &at
	}
	return r, nil
}

// CompleteReview grava a nota geral da crítica. A nota vai de 0 a 10.
func (s *Store) CompleteReview(ctx context.Context, id string, score float64) (Review, error) {
	if score < 0 || score > 10 {
		return Review{}, ErrInvalidScore
	}
	res, err := s.exec(ctx,
		`UPDATE reviews SET overall_score = ?, status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		score, ReviewCompleted, toMillis(s.now()), id, ReviewQueued)
	if err != nil {
		return Review{}, fmt.Errorf("complete review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r, err := s.Review(ctx, id)
		if err != nil {
			return Review{}, err
		}
		if r.Status == ReviewCompleted {
			return Review{}, ErrAlreadyCompleted
		}
		return Review{}, fmt.Errorf("complete review %s: status %q", id, r.Status)
	}
	return s.Review(ctx, id)
}
