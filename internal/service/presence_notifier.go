package service

import (
	"context"
	"time"

	"emberchat/internal/models"

	"github.com/sirupsen/logrus"
)

const snapshotTimeout = 5 * time.Second

// BusSnapshotNotifier fans a presence snapshot out to every online user of
// the affected origin over the event bus. Satisfies presence.SnapshotNotifier.
type BusSnapshotNotifier struct {
	bus    EventBus
	logger *logrus.Logger
}

func NewBusSnapshotNotifier(bus EventBus, logger *logrus.Logger) *BusSnapshotNotifier {
	return &BusSnapshotNotifier{bus: bus, logger: logger}
}

func (n *BusSnapshotNotifier) NotifyPresence(origin string, onlineUserIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	event := models.PresenceSnapshotEvent(&models.PresenceSnapshot{
		Origin:        origin,
		OnlineUserIDs: onlineUserIDs,
	})

	for _, userID := range onlineUserIDs {
		if err := n.bus.PublishEvent(ctx, userID, event); err != nil {
			n.logger.WithError(err).WithField("origin", origin).Error("Failed to push presence snapshot")
		}
	}
}
