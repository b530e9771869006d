package service

import (
	"context"
	"time"

	"emberchat/internal/constants"
	"emberchat/internal/errors"
	"emberchat/internal/models"
	"emberchat/internal/privacy"
	"emberchat/internal/validation"

	"github.com/sirupsen/logrus"
)

// SubmitRequest is an inbound send request. AudienceID names the peer for
// direct messages or the group for group messages.
type SubmitRequest struct {
	SenderID          string     `json:"senderId"`
	AudienceID        string     `json:"audienceId"`
	IsGroup           bool       `json:"isGroup"`
	Text              string     `json:"text,omitempty"`
	Image             string     `json:"image,omitempty"`
	ScheduledSendTime *time.Time `json:"scheduledSendTime,omitempty"`
	IsEphemeral       bool       `json:"isEphemeral,omitempty"`
	EphemeralDuration int        `json:"ephemeralDuration,omitempty"`
}

// SubmitResult reports how a submitted message was handled.
type SubmitResult struct {
	Status  models.SendStatus `json:"status"`
	Message *models.Message   `json:"message"`
}

// ChatService is the facade the transport layer calls into: immediate and
// scheduled sends, history reads, viewed signals, and deletions.
type ChatService struct {
	store      MessageStore
	dispatcher Deliverer
	scheduler  *Scheduler
	ephemeral  *EphemeralEngine
	logger     *logrus.Logger
}

func NewChatService(store MessageStore, dispatcher Deliverer, scheduler *Scheduler, ephemeral *EphemeralEngine, logger *logrus.Logger) *ChatService {
	return &ChatService{
		store:      store,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		ephemeral:  ephemeral,
		logger:     logger,
	}
}

// SubmitMessage validates and persists a send request. Future-dated requests
// go through the scheduler; everything else is stored and dispatched
// immediately. A delivery failure after a successful store write is
// invisible to the sender: the message is durable and offline recipients
// catch up via history.
func (s *ChatService) SubmitMessage(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := validation.ValidateUserID(req.SenderID); err != nil {
		return nil, err
	}
	if err := validation.ValidateUserID(req.AudienceID); err != nil {
		return nil, err
	}
	if err := validation.ValidateContent(req.Text, req.Image); err != nil {
		return nil, err
	}
	if err := validation.ValidateEphemeralDuration(req.EphemeralDuration); err != nil {
		return nil, err
	}
	if !req.IsGroup && req.SenderID == req.AudienceID {
		return nil, errors.Validation("sender and receiver cannot be the same user")
	}

	duration := req.EphemeralDuration
	if duration == 0 {
		duration = constants.DefaultEphemeralDurationSec
	}

	msg := &models.Message{
		SenderID:          req.SenderID,
		Text:              req.Text,
		Image:             req.Image,
		IsEphemeral:       req.IsEphemeral,
		EphemeralDuration: duration,
		IsSent:            true,
	}
	if req.IsGroup {
		msg.GroupID = req.AudienceID
	} else {
		msg.ReceiverID = req.AudienceID
	}

	if req.ScheduledSendTime != nil {
		if err := s.scheduler.Schedule(ctx, msg, *req.ScheduledSendTime); err != nil {
			return nil, err
		}
		return &SubmitResult{Status: models.StatusScheduled, Message: msg}, nil
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, errors.WrapRetryable(err, errors.ErrCodeStoreFailure, "failed to persist message")
	}

	if err := s.dispatcher.Deliver(ctx, msg); err != nil {
		// The message is durably stored; real-time push is best effort.
		s.logger.WithError(err).WithField("messageId", privacy.MaskMessageID(msg.ID)).
			Error("Failed to dispatch message")
	}

	return &SubmitResult{Status: models.StatusSent, Message: msg}, nil
}

// GetHistory returns the visible messages of a conversation for the
// requester, oldest first. The store query returns all sent messages; hides
// are applied here, at the read boundary.
func (s *ChatService) GetHistory(ctx context.Context, requesterID, chatID string, isGroup bool) ([]*models.Message, error) {
	if err := validation.ValidateUserID(requesterID); err != nil {
		return nil, err
	}
	if err := validation.ValidateUserID(chatID); err != nil {
		return nil, err
	}

	var messages []*models.Message
	var err error
	if isGroup {
		messages, err = s.store.GetGroupMessages(ctx, chatID)
	} else {
		messages, err = s.store.GetDirectMessages(ctx, requesterID, chatID)
	}
	if err != nil {
		return nil, errors.WrapRetryable(err, errors.ErrCodeStoreFailure, "failed to load conversation history")
	}

	visible := make([]*models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.HiddenFor(requesterID) {
			continue
		}
		visible = append(visible, msg)
	}
	return visible, nil
}

// ViewedSignal reports that viewerID has now seen the conversation with
// chatID, starting burn countdowns for any qualifying ephemeral messages.
// Fire-and-forget: errors are logged inside the engine.
func (s *ChatService) ViewedSignal(ctx context.Context, viewerID, chatID string, isGroup bool) {
	if err := validation.ValidateUserID(viewerID); err != nil {
		s.logger.WithError(err).Debug("Ignoring viewed signal with invalid viewer ID")
		return
	}
	if err := validation.ValidateUserID(chatID); err != nil {
		s.logger.WithError(err).Debug("Ignoring viewed signal with invalid chat ID")
		return
	}

	s.ephemeral.OnViewed(ctx, viewerID, chatID, isGroup)
}

// RequestDelete hides a message for the requester (mode=me) or redacts it
// for everyone (mode=everyone, sender only). A still-pending scheduled
// message has its job cancelled before redaction so it can never deliver.
func (s *ChatService) RequestDelete(ctx context.Context, messageID, requesterID string, mode models.DeleteMode) (*models.DeletionInfo, error) {
	if err := validation.ValidateMessageID(messageID); err != nil {
		return nil, err
	}
	if err := validation.ValidateUserID(requesterID); err != nil {
		return nil, err
	}
	if err := validation.ValidateDeleteMode(mode); err != nil {
		return nil, err
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, errors.WrapRetryable(err, errors.ErrCodeStoreFailure, "failed to load message")
	}
	if msg == nil {
		return nil, errors.NotFound("message", messageID)
	}

	participant, err := s.isParticipant(ctx, msg, requesterID)
	if err != nil {
		return nil, errors.WrapRetryable(err, errors.ErrCodeStoreFailure, "failed to resolve participants")
	}
	if !participant {
		return nil, errors.Forbidden("not a participant of this conversation")
	}

	info := &models.DeletionInfo{
		MessageID:       msg.ID,
		Mode:            mode,
		SenderID:        msg.SenderID,
		ReceiverID:      msg.ReceiverID,
		GroupID:         msg.GroupID,
		ConversationKey: msg.ConversationKey(),
	}

	if mode == models.DeleteForMe {
		if err := s.store.HideMessageFor(ctx, msg.ID, requesterID); err != nil {
			return nil, errors.WrapRetryable(err, errors.ErrCodeStoreFailure, "failed to hide message")
		}
		return info, nil
	}

	if msg.SenderID != requesterID {
		return nil, errors.Forbidden("only the sender can delete a message for everyone")
	}

	// Cancel a still-pending scheduled send before redacting; the scheduler's
	// store re-check closes the window if the job is already firing.
	if msg.IsScheduled && !msg.IsSent {
		s.scheduler.Cancel(msg.ID)
	}

	if err := s.store.RedactMessage(ctx, msg.ID, constants.DeletedMessagePlaceholder); err != nil {
		return nil, errors.WrapRetryable(err, errors.ErrCodeStoreFailure, "failed to redact message")
	}
	info.UpdatedText = constants.DeletedMessagePlaceholder

	if err := s.dispatcher.Broadcast(ctx, msg, models.MessageDeletedEvent(info)); err != nil {
		s.logger.WithError(err).WithField("messageId", privacy.MaskMessageID(msg.ID)).
			Error("Failed to broadcast deletion")
	}

	return info, nil
}

func (s *ChatService) isParticipant(ctx context.Context, msg *models.Message, userID string) (bool, error) {
	if !msg.IsGroup() {
		return userID == msg.SenderID || userID == msg.ReceiverID, nil
	}

	members, err := s.store.GetGroupMembers(ctx, msg.GroupID)
	if err != nil {
		return false, err
	}
	for _, member := range members {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}
