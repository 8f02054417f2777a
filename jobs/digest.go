package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"troubadour/notify"
	"troubadour/store"

	"go.uber.org/zap"
)

// DefaultPeriod é o período coberto pelo digest e pelas coortes de churn.
const DefaultPeriod = 7 * 24 * time.Hour

// ActivitySource é o pedaço do store usado pelos jobs.
type ActivitySource interface {
	ActiveUsers(ctx context.Context, from, to time.Time) ([]string, error)
	UserActivity(ctx context.Context, userID string, from, to time.Time) ([]store.Activity, error)
}

type DigestSummary struct {
	UserID       string    `json:"user_id"`
	Reviews      int       `json:"reviews"`
	AverageScore float64   `json:"average_score"`
	BestTrack    string    `json:"best_track"`
	BestScore    float64   `json:"best_score"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
}

// BuildDigest resume as críticas do usuário. ok=false quando não há nenhuma.
func BuildDigest(userID string, acts []store.Activity, from, to time.Time) (DigestSummary, bool) {
	if len(acts) == 0 {
		return DigestSummary{}, false
	}
	sum := DigestSummary{UserID: userID, Reviews: len(acts), PeriodStart: from, PeriodEnd: to}
	var total float64
	best := acts[0]
	for _, a := range acts {
		total += a.Score
		if a.Score > best.Score {
			best = a
		}
	}
	sum.AverageScore = math.Round(total/float64(len(acts))*100) / 100
	sum.BestTrack = best.TrackTitle
	sum.BestScore = best.Score
	return sum, true
}

type Digest struct {
	Source   ActivitySource
	Notifier notify.Notifier
	Period   time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

// Run monta e envia o digest de cada usuário ativo no período que termina agora.
// Falha de envio de um usuário não impede os demais.
func (d *Digest) Run(ctx context.Context) error {
	period, now, logger := d.Period, d.Now, d.Logger
	if period <= 0 {
		period = DefaultPeriod
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	to := now().UTC()
	from := to.Add(-period)

	users, err := d.Source.ActiveUsers(ctx, from, to)
	if err != nil {
		return fmt.Errorf("digest: %w", err)
	}

	var (
		errs []error
		sent int
	)
	for _, userID := range users {
		acts, err := d.Source.UserActivity(ctx, userID, from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("digest activity %s: %w", userID, err))
			continue
		}
		summary, ok := BuildDigest(userID, acts, from, to)
		if !ok {
			continue
		}
		msg, err := notify.NewMessage(notify.KindDigest, userID, summary)
		if err == nil {
			err = d.Notifier.Notify(ctx, msg)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("digest notify %s: %w", userID, err))
			continue
		}
		sent++
	}

	logger.Info("digest run finished",
		zap.Int("active_users", len(users)),
		zap.Int("sent", sent),
		zap.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}
