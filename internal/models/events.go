package models

// EventType identifies the real-time events the core emits toward connected
// clients over the event bus.
type EventType string

const (
	EventNewMessage       EventType = "newMessage"
	EventMessageDeleted   EventType = "messageDeleted"
	EventMessageBurned    EventType = "messageBurned"
	EventPresenceSnapshot EventType = "getOnlineUsers"
)

// Event is the serialized envelope pushed to each recipient's bus subject.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

func NewMessageEvent(msg *Message) Event {
	return Event{Type: EventNewMessage, Data: msg}
}

func MessageDeletedEvent(info *DeletionInfo) Event {
	return Event{Type: EventMessageDeleted, Data: info}
}

func MessageBurnedEvent(notice *BurnNotice) Event {
	return Event{Type: EventMessageBurned, Data: notice}
}

func PresenceSnapshotEvent(snapshot *PresenceSnapshot) Event {
	return Event{Type: EventPresenceSnapshot, Data: snapshot}
}
