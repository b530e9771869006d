package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"emberchat/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const subjectPrefix = "emberchat.user"

// SubjectForUser returns the bus subject carrying a user's real-time events.
// Each live connection subscribes to exactly one of these.
func SubjectForUser(userID string) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, userID)
}

// Bus is the NATS-backed event fan-out. Delivery over the bus is
// fire-and-forget; durability lives in the store, and offline users catch up
// via history reads on reconnect.
type Bus struct {
	nc     *nats.Conn
	logger *logrus.Logger
}

func Connect(url string, logger *logrus.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("emberchat"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Bus{nc: nc, logger: logger}, nil
}

func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// PublishEvent pushes one event to a user's subject.
func (b *Bus) PublishEvent(ctx context.Context, userID string, event models.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.nc.Publish(SubjectForUser(userID), data); err != nil {
		return fmt.Errorf("failed to publish event for user %s: %w", userID, err)
	}
	return nil
}

// Subscription is a live per-connection subscription.
type Subscription interface {
	Unsubscribe() error
}

// SubscribeUser delivers every event published for userID to handler until
// the subscription is released.
func (b *Bus) SubscribeUser(userID string, handler func(models.Event)) (Subscription, error) {
	sub, err := b.nc.Subscribe(SubjectForUser(userID), func(msg *nats.Msg) {
		var event models.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.WithError(err).WithField("subject", msg.Subject).Error("Failed to unmarshal bus event")
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe for user %s: %w", userID, err)
	}
	return sub, nil
}
