package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSConfig struct {
	URL            string
	Name           string
	Subject        string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// conn is the part of *nats.Conn the notifier needs.
type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSNotifier publishes every notification as JSON on
// "<subject>.<kind>", for example "palette.notifications.dispute".
type NATSNotifier struct {
	conn    conn
	subject string
}

func NewNATSNotifier(cfg NATSConfig) (*NATSNotifier, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newNATSNotifier(nc, cfg.Subject), nil
}

func newNATSNotifier(c conn, subject string) *NATSNotifier {
	if subject == "" {
		subject = "palette.notifications"
	}
	return &NATSNotifier{conn: c, subject: subject}
}

func (nn *NATSNotifier) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := nn.subject + "." + string(n.Kind)
	if err := nn.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (nn *NATSNotifier) Close() {
	nn.conn.Close()
}
