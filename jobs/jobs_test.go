package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"troubadour/notify"
	"troubadour/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeActivity struct {
	cohorts  map[time.Time][]string
	activity map[string][]store.Activity
	err      error
}

func (f *fakeActivity) ActiveUsers(_ context.Context, from, _ time.Time) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cohorts[from], nil
}

func (f *fakeActivity) UserActivity(_ context.Context, userID string, _, _ time.Time) ([]store.Activity, error) {
	return f.activity[userID], nil
}

type inbox struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (i *inbox) Notify(_ context.Context, msg notify.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	i.msgs = append(i.msgs, msg)
	return nil
}

var jobNow = time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)

func TestBuildDigest(t *testing.T) {
	acts := []store.Activity{
		{TrackTitle: "Demo A", Score: 6},
		{TrackTitle: "Demo B", Score: 8.5},
		{TrackTitle: "Demo C", Score: 7},
	}
	sum, ok := BuildDigest("u1", acts, jobNow.Add(-DefaultPeriod), jobNow)
	require.True(t, ok)
	assert.Equal(t, 3, sum.Reviews)
	assert.Equal(t, 7.17, sum.AverageScore)
	assert.Equal(t, "Demo B", sum.BestTrack)
	assert.Equal(t, 8.5, sum.BestScore)

	_, ok = BuildDigest("u2", nil, jobNow, jobNow)
	assert.False(t, ok)
}

func TestDigest_SendsOnlyUsersWithReviews(t *testing.T) {
	from := jobNow.Add(-DefaultPeriod)
	src := &fakeActivity{
		cohorts: map[time.Time][]string{from: {"ana", "bob"}},
		activity: map[string][]store.Activity{
			"ana": {{TrackTitle: "Intro", Score: 9}},
		},
	}
	box := &inbox{}
	d := &Digest{Source: src, Notifier: box, Now: func() time.Time { return jobNow }}

	require.NoError(t, d.Run(context.Background()))
	require.Len(t, box.msgs, 1)
	assert.Equal(t, notify.KindDigest, box.msgs[0].Kind)
	assert.Equal(t, "ana", box.msgs[0].To)

	var sum DigestSummary
	require.NoError(t, json.Unmarshal(box.msgs[0].Payload, &sum))
	assert.Equal(t, "Intro", sum.BestTrack)
	assert.Equal(t, 1, sum.Reviews)
}

func TestDigest_NotifyErrorsAreJoined(t *testing.T) {
	from := jobNow.Add(-DefaultPeriod)
	src := &fakeActivity{
		cohorts:  map[time.Time][]string{from: {"ana"}},
		activity: map[string][]store.Activity{"ana": {{Score: 5}}},
	}
	d := &Digest{Source: src, Notifier: &inbox{err: errors.New("smtp relay down")}, Now: func() time.Time { return jobNow }}

	err := d.Run(context.Background())
	assert.ErrorContains(t, err, "smtp relay down")
}

func TestRetentionRate(t *testing.T) {
	rate, retained := RetentionRate([]string{"a", "b", "c", "d"}, []string{"b", "d", "e"})
	assert.Equal(t, 0.5, rate)
	assert.Equal(t, 2, retained)

	rate, _ = RetentionRate(nil, []string{"a"})
	assert.Equal(t, 1.0, rate)
}

func TestChurn_AlertsBelowThreshold(t *testing.T) {
	mid := jobNow.Add(-DefaultPeriod)
	start := mid.Add(-DefaultPeriod)
	src := &fakeActivity{cohorts: map[time.Time][]string{
		start: {"a", "b", "c", "d", "e"},
		mid:   {"a", "x"},
	}}
	box := &inbox{}
	c := &Churn{Source: src, Notifier: box, Threshold: DefaultChurnThreshold, Now: func() time.Time { return jobNow }}

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, box.msgs, 1)
	assert.Equal(t, notify.KindChurnAlert, box.msgs[0].Kind)
	assert.Equal(t, "ops", box.msgs[0].To)

	var alert ChurnAlert
	require.NoError(t, json.Unmarshal(box.msgs[0].Payload, &alert))
	assert.Equal(t, 0.2, alert.Rate)
	assert.Equal(t, DefaultChurnThreshold, alert.Threshold)
	assert.Equal(t, 5, alert.PreviousCohort)
	assert.Equal(t, 1, alert.Retained)
}

func TestChurn_NoAlertWhenRetained(t *testing.T) {
	mid := jobNow.Add(-DefaultPeriod)
	start := mid.Add(-DefaultPeriod)
	src := &fakeActivity{cohorts: map[time.Time][]string{
		start: {"a", "b"},
		mid:   {"a", "b"},
	}}
	box := &inbox{}
	c := &Churn{Source: src, Notifier: box, Threshold: 0.9, Now: func() time.Time { return jobNow }}

	require.NoError(t, c.Run(context.Background()))
	assert.Empty(t, box.msgs)
}

func TestChurn_ZeroThresholdNeverAlerts(t *testing.T) {
	mid := jobNow.Add(-DefaultPeriod)
	start := mid.Add(-DefaultPeriod)
	src := &fakeActivity{cohorts: map[time.Time][]string{
		start: {"a", "b", "c"},
		mid:   {"z"},
	}}
	box := &inbox{}
	c := &Churn{Source: src, Notifier: box, Threshold: 0, Now: func() time.Time { return jobNow }}

	require.NoError(t, c.Run(context.Background()))
	assert.Empty(t, box.msgs, "retention 0 with threshold 0 stays silent")
}

func TestChurn_SourceError(t *testing.T) {
	c := &Churn{Source: &fakeActivity{err: errors.New("db closed")}, Notifier: &inbox{}}
	assert.ErrorContains(t, c.Run(context.Background()), "db closed")
}

func TestRunEvery_RunsImmediatelyAndKeepsGoingOnError(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	var failures atomic.Int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunEvery(ctx, 2*time.Millisecond, func(context.Context) error {
			runs.Add(1)
			return errors.New("transient")
		}, func(error) { failures.Add(1) })
	}()

	assert.Eventually(t, func() bool { return failures.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.GreaterOrEqual(t, runs.Load(), failures.Load())
}

func TestScheduler_StopsAllJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Int32

	s := NewScheduler(nil)
	s.Start(ctx,
		Job{Name: "digest", Every: time.Hour, Run: func(context.Context) error { ran.Add(1); return nil }},
		Job{Name: "churn", Every: time.Hour, Run: func(context.Context) error { ran.Add(1); return nil }},
		Job{Name: "off", Every: 0, Run: func(context.Context) error { ran.Add(100); return nil }},
	)

	assert.Eventually(t, func() bool { return ran.Load() == 2 }, time.Second, time.Millisecond)
	cancel()
	s.Wait()
}
