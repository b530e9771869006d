package service

import (
	"context"
	"sync"
	"time"

	"emberchat/internal/constants"
	"emberchat/internal/metrics"
	"emberchat/internal/models"
	"emberchat/internal/privacy"

	"github.com/sirupsen/logrus"
)

const burnTimeout = 30 * time.Second

// EphemeralEngine arms burn timers for ephemeral messages once a qualifying
// recipient signals they were viewed. The burn clock starts at read, not at
// send. Timers are process-local: a crash between the viewed signal and
// expiry loses the pending burn.
type EphemeralEngine struct {
	store     MessageStore
	deliverer Deliverer
	logger    *logrus.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewEphemeralEngine(store MessageStore, deliverer Deliverer, logger *logrus.Logger) *EphemeralEngine {
	return &EphemeralEngine{
		store:     store,
		deliverer: deliverer,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
	}
}

// OnViewed handles a "viewer has now seen messages from chatID" signal. Every
// ephemeral sent message addressed to the viewer from the other party gets a
// one-shot burn timer; repeated signals never double-arm a message. The
// trigger is fire-and-forget: failures are logged, not returned.
func (e *EphemeralEngine) OnViewed(ctx context.Context, viewerID, chatID string, isGroup bool) {
	messages, err := e.store.ListBurnable(ctx, viewerID, chatID, isGroup)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"viewerId": privacy.MaskUserID(viewerID),
			"isGroup":  isGroup,
		}).Error("Failed to list burnable messages")
		return
	}

	for _, msg := range messages {
		e.armBurn(msg)
	}
}

// ArmedTimers reports the number of live burn timers.
func (e *EphemeralEngine) ArmedTimers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Stop cancels every pending burn timer.
func (e *EphemeralEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
}

func (e *EphemeralEngine) armBurn(msg *models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	if _, exists := e.timers[msg.ID]; exists {
		return
	}

	duration := msg.EphemeralDuration
	if duration <= 0 {
		duration = constants.DefaultEphemeralDurationSec
	}

	messageID := msg.ID
	e.timers[messageID] = time.AfterFunc(time.Duration(duration)*time.Second, func() {
		e.burn(messageID)
	})

	e.logger.WithFields(logrus.Fields{
		"messageId":   privacy.MaskMessageID(messageID),
		"durationSec": duration,
	}).Debug("Armed burn timer")
}

// burn hard-deletes an expired ephemeral message and announces the removal
// to the full audience. The existence re-check tolerates messages already
// removed by other means.
func (e *EphemeralEngine) burn(messageID string) {
	e.mu.Lock()
	delete(e.timers, messageID)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), burnTimeout)
	defer cancel()

	maskedID := privacy.MaskMessageID(messageID)

	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		e.logger.WithError(err).WithField("messageId", maskedID).Error("Failed to load message for burn")
		return
	}
	if msg == nil {
		e.logger.WithField("messageId", maskedID).Debug("Message already gone, skipping burn")
		return
	}

	if err := e.store.DeleteMessage(ctx, messageID); err != nil {
		e.logger.WithError(err).WithField("messageId", maskedID).Error("Failed to delete expired message")
		return
	}

	notice := &models.BurnNotice{
		MessageID:       messageID,
		GroupID:         msg.GroupID,
		ConversationKey: msg.ConversationKey(),
	}
	if err := e.deliverer.Broadcast(ctx, msg, models.MessageBurnedEvent(notice)); err != nil {
		e.logger.WithError(err).WithField("messageId", maskedID).Error("Failed to broadcast burn notice")
	}

	metrics.IncrementCounter("messages_burned", nil, "Ephemeral messages hard-deleted after expiry")
	e.logger.WithField("messageId", maskedID).Info("Burned ephemeral message")
}
