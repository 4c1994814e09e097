package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const eventTypeHeader = "Event-Type"

// MsgPublisher is the part of *nats.Conn the deliverer needs.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

type NATSDeliverer struct {
	conn    MsgPublisher
	subject string
}

func NewNATSDeliverer(conn MsgPublisher, subject string) *NATSDeliverer {
	return &NATSDeliverer{conn: conn, subject: subject}
}

func (n *NATSDeliverer) Name() string {
	return "nats"
}

func (n *NATSDeliverer) Deliver(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := nats.NewMsg(n.subject)
	msg.Header.Set(eventTypeHeader, env.Type)
	msg.Header.Set(nats.MsgIdHdr, env.ID)
	msg.Data = data
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
	}
	return nil
}

func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("approval-workflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// DecodeMessage turns a message published by NATSDeliverer back into an envelope.
func DecodeMessage(msg *nats.Msg) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid notification payload: %w", err)
	}
	if env.Type == "" && msg.Header != nil {
		env.Type = msg.Header.Get(eventTypeHeader)
	}
	return env, nil
}

// Consume subscribes to subject and calls handle for every decodable message until
// ctx is cancelled, then drains the subscription.
func Consume(ctx context.Context, nc *nats.Conn, subject string, logger *slog.Logger, handle func(context.Context, Envelope) error) error {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		env, err := DecodeMessage(msg)
		if err != nil {
			logger.Warn("dropping malformed notification", "subject", msg.Subject, "error", err)
			return
		}
		if err := handle(ctx, env); err != nil {
			logger.Error("notification handler failed", "event_id", env.ID, "event_type", env.Type, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	logger.Info("consuming notifications", "subject", subject)
	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		logger.Warn("failed to drain subscription", "subject", subject, "error", err)
	}
	return nil
}
