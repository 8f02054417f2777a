package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingPublisher struct {
	subjects []string
	bodies   [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subj string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subj)
	p.bodies = append(p.bodies, data)
	return nil
}

func TestNATSNotifier_PublishesToKindSubject(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNATSNotifier(pub, "troubadour.mail.")

	msg, err := NewMessage(KindDigest, "u1", map[string]int{"reviews": 3})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), msg))

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "troubadour.mail.digest", pub.subjects[0])

	var got Message
	require.NoError(t, json.Unmarshal(pub.bodies[0], &got))
	assert.Equal(t, KindDigest, got.Kind)
	assert.Equal(t, "u1", got.To)
	assert.JSONEq(t, `{"reviews":3}`, string(got.Payload))
}

func TestNATSNotifier_DefaultPrefixAndErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats: connection closed")}
	n := NewNATSNotifier(pub, "")
	assert.Equal(t, "troubadour.notify.churn_alert", n.Subject(KindChurnAlert))

	err := n.Notify(context.Background(), Message{Kind: KindChurnAlert})
	assert.ErrorContains(t, err, "connection closed")

	var nilNotifier *NATSNotifier
	assert.Error(t, nilNotifier.Notify(context.Background(), Message{}))
}

func TestLogNotifier_WritesStructuredLine(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := LogNotifier{Logger: zap.New(core)}

	msg, _ := NewMessage(KindChurnAlert, "ops", map[string]float64{"rate": 0.4})
	require.NoError(t, n.Notify(context.Background(), msg))

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "churn_alert", entries[0].ContextMap()["kind"])
	assert.Equal(t, "ops", entries[0].ContextMap()["to"])
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	bad := &recordingPublisher{err: errors.New("down")}
	m := Multi{NewNATSNotifier(ok, "a"), NewNATSNotifier(bad, "b"), LogNotifier{}}

	err := m.Notify(context.Background(), Message{Kind: KindDigest})
	assert.ErrorContains(t, err, "down")
	assert.Len(t, ok.subjects, 1)
}
