// Package notify entrega as notificações geradas pelos jobs (digest, alerta de churn).
//
// O envio de email fica fora deste repo: o NATSNotifier publica a mensagem e um
// worker de email consome o subject.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Kind string

const (
	KindDigest     Kind = "digest"
	KindChurnAlert Kind = "churn_alert"
)

type Message struct {
	Kind    Kind            `json:"kind"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage serializa payload em JSON.
func NewMessage(kind Kind, to string, payload any) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Message{Kind: kind, To: to, Payload: body}, nil
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier só registra a mensagem no log. É o padrão sem NATS configurado.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification",
		zap.String("kind", string(msg.Kind)),
		zap.String("to", msg.To),
		zap.ByteString("payload", msg.Payload),
	)
	return nil
}

// Publisher é o subconjunto de *nats.Conn usado aqui.
type Publisher interface {
	Publish(subj string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSNotifier publica em "<prefix>.<kind>".
type NATSNotifier struct {
	pub    Publisher
	prefix string
}

func NewNATSNotifier(pub Publisher, prefix string) *NATSNotifier {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = "troubadour.notify"
	}
	return &NATSNotifier{pub: pub, prefix: prefix}
}

// Connect abre a conexão NATS com reconexão infinita.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return nats.Connect(url,
		nats.Name("troubadour"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
}

func (n *NATSNotifier) Subject(kind Kind) string {
	return n.prefix + "." + string(kind)
}

func (n *NATSNotifier) Notify(_ context.Context, msg Message) error {
	if n == nil || n.pub == nil {
		return errors.New("nats notifier: connection unavailable")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := n.pub.Publish(n.Subject(msg.Kind), body); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Kind, err)
	}
	return nil
}

// Multi entrega para todos e junta os erros.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
