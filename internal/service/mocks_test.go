package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"emberchat/internal/models"

	"github.com/google/uuid"
)

// fakeStore is an in-memory MessageStore with the same visible semantics as
// the SQLite implementation.
type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	groups   map[string][]string

	saveErr       error
	groupFetchErr error
	listErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[string]*models.Message),
		groups:   make(map[string][]string),
	}
}

func copyMessage(msg *models.Message) *models.Message {
	cp := *msg
	cp.DeletedFor = append([]string(nil), msg.DeletedFor...)
	if msg.ScheduledSendTime != nil {
		t := *msg.ScheduledSendTime
		cp.ScheduledSendTime = &t
	}
	return &cp
}

func (f *fakeStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	f.messages[msg.ID] = copyMessage(msg)
	return nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return nil, nil
	}
	return copyMessage(msg), nil
}

func (f *fakeStore) GetDirectMessages(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, msg := range f.messages {
		if msg.GroupID != "" || !msg.IsSent {
			continue
		}
		if (msg.SenderID == userA && msg.ReceiverID == userB) || (msg.SenderID == userB && msg.ReceiverID == userA) {
			out = append(out, copyMessage(msg))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (f *fakeStore) GetGroupMessages(ctx context.Context, groupID string) ([]*models.Message, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, msg := range f.messages {
		if msg.GroupID == groupID && msg.IsSent {
			out = append(out, copyMessage(msg))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (f *fakeStore) MarkSent(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok || !msg.IsScheduled || msg.IsSent {
		return false, nil
	}
	msg.IsSent = true
	msg.IsScheduled = false
	return true, nil
}

func (f *fakeStore) RedactMessage(ctx context.Context, id, placeholder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return fmt.Errorf("no message found with ID: %s", id)
	}
	msg.Text = placeholder
	msg.Image = ""
	msg.IsScheduled = false
	msg.DeletedFor = nil
	return nil
}

func (f *fakeStore) HideMessageFor(ctx context.Context, id, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return fmt.Errorf("no message found with ID: %s", id)
	}
	if !msg.HiddenFor(userID) {
		msg.DeletedFor = append(msg.DeletedFor, userID)
	}
	return nil
}

func (f *fakeStore) DeleteMessage(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, id)
	return nil
}

func (f *fakeStore) ListPendingScheduled(ctx context.Context) ([]*models.Message, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, msg := range f.messages {
		if msg.IsScheduled && !msg.IsSent {
			out = append(out, copyMessage(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledSendTime.Before(*out[j].ScheduledSendTime)
	})
	return out, nil
}

func (f *fakeStore) ListBurnable(ctx context.Context, viewerID, chatID string, isGroup bool) ([]*models.Message, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, msg := range f.messages {
		if !msg.IsEphemeral || !msg.IsSent {
			continue
		}
		if isGroup {
			if msg.GroupID == chatID && msg.SenderID != viewerID {
				out = append(out, copyMessage(msg))
			}
		} else {
			if msg.SenderID == chatID && msg.ReceiverID == viewerID {
				out = append(out, copyMessage(msg))
			}
		}
	}
	sortByCreation(out)
	return out, nil
}

func (f *fakeStore) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	if f.groupFetchErr != nil {
		return nil, f.groupFetchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.groups[groupID]...), nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func sortByCreation(msgs []*models.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// fakeBus records published events per user.
type fakeBus struct {
	mu        sync.Mutex
	published map[string][]models.Event
	failFor   map[string]error
	notify    chan struct{}
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][]models.Event),
		failFor:   make(map[string]error),
		notify:    make(chan struct{}, 64),
	}
}

func (f *fakeBus) PublishEvent(ctx context.Context, userID string, event models.Event) error {
	f.mu.Lock()
	err := f.failFor[userID]
	if err == nil {
		f.published[userID] = append(f.published[userID], event)
	}
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
	return err
}

func (f *fakeBus) eventsFor(userID string) []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Event(nil), f.published[userID]...)
}

// fakePresence marks a fixed set of users online.
type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func newFakePresence(online ...string) *fakePresence {
	p := &fakePresence{online: make(map[string]bool)}
	for _, id := range online {
		p.online[id] = true
	}
	return p
}

func (f *fakePresence) IsOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

// fakeDeliverer records deliveries and broadcasts and signals each one.
type fakeDeliverer struct {
	mu         sync.Mutex
	delivered  []*models.Message
	broadcasts []models.Event
	deliverErr error
	notify     chan struct{}
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{notify: make(chan struct{}, 64)}
}

func (f *fakeDeliverer) Deliver(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	err := f.deliverErr
	if err == nil {
		f.delivered = append(f.delivered, copyMessage(msg))
	}
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
	return err
}

func (f *fakeDeliverer) Broadcast(ctx context.Context, msg *models.Message, event models.Event) error {
	f.mu.Lock()
	f.broadcasts = append(f.broadcasts, event)
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeDeliverer) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func (f *fakeDeliverer) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

func (f *fakeDeliverer) lastDelivered() *models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.delivered) == 0 {
		return nil
	}
	return f.delivered[len(f.delivered)-1]
}

func (f *fakeDeliverer) lastBroadcast() (models.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.broadcasts) == 0 {
		return models.Event{}, false
	}
	return f.broadcasts[len(f.broadcasts)-1], true
}

func waitFor(ch <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
