package service

import (
	"context"

	"emberchat/internal/models"
)

// MessageStore is the durable record of messages. Implemented by
// database.Database; faked in tests.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetDirectMessages(ctx context.Context, userA, userB string) ([]*models.Message, error)
	GetGroupMessages(ctx context.Context, groupID string) ([]*models.Message, error)
	MarkSent(ctx context.Context, id string) (bool, error)
	RedactMessage(ctx context.Context, id, placeholder string) error
	HideMessageFor(ctx context.Context, id, userID string) error
	DeleteMessage(ctx context.Context, id string) error
	ListPendingScheduled(ctx context.Context) ([]*models.Message, error)
	ListBurnable(ctx context.Context, viewerID, chatID string, isGroup bool) ([]*models.Message, error)
	GetGroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// EventBus publishes serialized events toward connected clients.
type EventBus interface {
	PublishEvent(ctx context.Context, userID string, event models.Event) error
}

// PresenceIndex answers whether a user currently holds a live connection.
type PresenceIndex interface {
	IsOnline(userID string) bool
}

// Deliverer pushes a message (or a follow-up event about it) to its audience.
type Deliverer interface {
	Deliver(ctx context.Context, msg *models.Message) error
	Broadcast(ctx context.Context, msg *models.Message, event models.Event) error
}
