package jobs

import (
	"context"
	"fmt"
	"time"

	"troubadour/notify"

	"go.uber.org/zap"
)

// DefaultChurnThreshold é a taxa de retenção abaixo da qual o alerta dispara.
const DefaultChurnThreshold = 0.6

// RetentionRate é a fração da coorte anterior que continuou ativa.
// Coorte anterior vazia conta como retenção total.
func RetentionRate(previous, current []string) (rate float64, retained int) {
	if len(previous) == 0 {
		return 1, 0
	}
	active := make(map[string]struct{}, len(current))
	for _, id := range current {
		active[id] = struct{}{}
	}
	for _, id := range previous {
		if _, ok := active[id]; ok {
			retained++
		}
	}
	return float64(retained) / float64(len(previous)), retained
}

type ChurnAlert struct {
	Rate           float64   `json:"rate"`
	Threshold      float64   `json:"threshold"`
	PreviousCohort int       `json:"previous_cohort"`
	Retained       int       `json:"retained"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

type Churn struct {
	Source   ActivitySource
	Notifier notify.Notifier
	Period   time.Duration
	// Threshold 0 desliga o alerta: retenção nunca fica abaixo de zero.
	Threshold float64
	// Recipient é o destinatário interno do alerta (ex.: lista do time).
	Recipient string
	Now       func() time.Time
	Logger    *zap.Logger
}

// Run compara a coorte do período anterior com a do período atual e alerta
// quando a retenção fica abaixo do limiar.
func (c *Churn) Run(ctx context.Context) error {
	period, threshold, now, logger := c.Period, c.Threshold, c.Now, c.Logger
	if period <= 0 {
		period = DefaultPeriod
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	recipient := c.Recipient
	if recipient == "" {
		recipient = "ops"
	}

	end := now().UTC()
	mid := end.Add(-period)
	start := mid.Add(-period)

	previous, err := c.Source.ActiveUsers(ctx, start, mid)
	if err != nil {
		return fmt.Errorf("churn previous cohort: %w", err)
	}
	current, err := c.Source.ActiveUsers(ctx, mid, end)
	if err != nil {
		return fmt.Errorf("churn current cohort: %w", err)
	}

	rate, retained := RetentionRate(previous, current)
	logger.Info("retention computed",
		zap.Float64("rate", rate),
		zap.Int("previous_cohort", len(previous)),
		zap.Int("retained", retained),
	)
	if rate >= threshold {
		return nil
	}

	msg, err := notify.NewMessage(notify.KindChurnAlert, recipient, ChurnAlert{
		Rate:           rate,
		Threshold:      threshold,
		PreviousCohort: len(previous),
		Retained:       retained,
		PeriodStart:    mid,
		PeriodEnd:      end,
	})
	if err != nil {
		return err
	}
	logger.Warn("retention below threshold", zap.Float64("rate", rate), zap.Float64("threshold", threshold))
	if err := c.Notifier.Notify(ctx, msg); err != nil {
		return fmt.Errorf("churn alert: %w", err)
	}
	return nil
}
