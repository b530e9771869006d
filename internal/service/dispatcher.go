package service

import (
	"context"

	"emberchat/internal/errors"
	"emberchat/internal/metrics"
	"emberchat/internal/models"
	"emberchat/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Dispatcher resolves a message's audience and pushes events to every
// currently-present member. Offline members are skipped silently; they catch
// up from the store on their next history fetch.
type Dispatcher struct {
	store    MessageStore
	presence PresenceIndex
	bus      EventBus
	logger   *logrus.Logger
}

func NewDispatcher(store MessageStore, presence PresenceIndex, bus EventBus, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		presence: presence,
		bus:      bus,
		logger:   logger,
	}
}

// Deliver pushes a newMessage event to the message's audience.
func (d *Dispatcher) Deliver(ctx context.Context, msg *models.Message) error {
	if err := d.Broadcast(ctx, msg, models.NewMessageEvent(msg)); err != nil {
		return err
	}

	metrics.IncrementCounter("messages_delivered", map[string]string{"kind": audienceKind(msg)},
		"Messages pushed to at least part of their audience")
	return nil
}

// Broadcast pushes an arbitrary event to the full audience of msg. Delivery
// is fire-and-forget per recipient: one recipient's failure never blocks the
// others, and only audience resolution errors propagate.
func (d *Dispatcher) Broadcast(ctx context.Context, msg *models.Message, event models.Event) error {
	audience, err := d.audience(ctx, msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreFailure, "failed to resolve audience").
			WithContext("messageId", msg.ID)
	}

	for _, member := range audience {
		if !d.presence.IsOnline(member) {
			continue
		}
		if err := d.bus.PublishEvent(ctx, member, event); err != nil {
			metrics.IncrementCounter("push_failures", nil, "Per-recipient push failures")
			d.logger.WithError(err).WithFields(logrus.Fields{
				"messageId": privacy.MaskMessageID(msg.ID),
				"userId":    privacy.MaskUserID(member),
				"event":     event.Type,
			}).Error("Failed to push event to recipient")
		}
	}
	return nil
}

// audience returns the user ids entitled to receive the message in real
// time. Group member lists are fetched fresh at delivery time, never cached.
// Direct messages include the sender so their other open sessions receive
// the event as confirmation.
func (d *Dispatcher) audience(ctx context.Context, msg *models.Message) ([]string, error) {
	if msg.IsGroup() {
		return d.store.GetGroupMembers(ctx, msg.GroupID)
	}
	return []string{msg.SenderID, msg.ReceiverID}, nil
}

func audienceKind(msg *models.Message) string {
	if msg.IsGroup() {
		return "group"
	}
	return "direct"
}
