package models

import (
	"sort"
	"strings"
	"time"
)

// DeleteMode selects between a per-viewer hide and a broadcast redaction.
type DeleteMode string

const (
	DeleteForMe       DeleteMode = "me"
	DeleteForEveryone DeleteMode = "everyone"
)

// SendStatus reports how a submitted message was handled.
type SendStatus string

const (
	StatusSent      SendStatus = "sent"
	StatusScheduled SendStatus = "scheduled"
)

// Message is the central persisted entity. Exactly one of ReceiverID and
// GroupID is set: ReceiverID for direct messages, GroupID for group messages.
type Message struct {
	ID                string     `json:"id" db:"id"`
	SenderID          string     `json:"senderId" db:"sender_id"`
	ReceiverID        string     `json:"receiverId,omitempty" db:"receiver_id"`
	GroupID           string     `json:"groupId,omitempty" db:"group_id"`
	Text              string     `json:"text,omitempty" db:"text"`
	Image             string     `json:"image,omitempty" db:"image"`
	IsEphemeral       bool       `json:"isEphemeral" db:"is_ephemeral"`
	EphemeralDuration int        `json:"ephemeralDuration" db:"ephemeral_duration"`
	IsScheduled       bool       `json:"isScheduled" db:"is_scheduled"`
	ScheduledSendTime *time.Time `json:"scheduledSendTime,omitempty" db:"scheduled_send_time"`
	IsSent            bool       `json:"isSent" db:"is_sent"`
	DeletedFor        []string   `json:"deletedFor,omitempty" db:"-"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsGroup reports whether the message is group-addressed.
func (m *Message) IsGroup() bool {
	return m.GroupID != ""
}

// ConversationKey returns the normalized conversation identifier: the group
// id for group messages, or the sorted sender/receiver pair for direct ones.
func (m *Message) ConversationKey() string {
	if m.IsGroup() {
		return m.GroupID
	}
	pair := []string{m.SenderID, m.ReceiverID}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// HiddenFor reports whether userID has locally hidden this message.
func (m *Message) HiddenFor(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// DeletionInfo describes a completed hide or redaction, broadcast to the
// audience on mode=everyone deletes.
type DeletionInfo struct {
	MessageID       string     `json:"messageId"`
	Mode            DeleteMode `json:"mode"`
	SenderID        string     `json:"senderId"`
	ReceiverID      string     `json:"receiverId,omitempty"`
	GroupID         string     `json:"groupId,omitempty"`
	UpdatedText     string     `json:"updatedText,omitempty"`
	ConversationKey string     `json:"conversationKey"`
}

// BurnNotice announces the hard deletion of an expired ephemeral message.
type BurnNotice struct {
	MessageID       string `json:"messageId"`
	GroupID         string `json:"groupId,omitempty"`
	ConversationKey string `json:"conversationKey"`
}

// PresenceSnapshot is the full online-user list for one origin tag.
type PresenceSnapshot struct {
	Origin        string   `json:"origin"`
	OnlineUserIDs []string `json:"onlineUserIds"`
}
