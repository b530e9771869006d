package presence

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handle identifies one live connection. Equality of handles decides whether
// a disconnect may evict the stored entry.
type Handle interface {
	ID() string
}

// SnapshotNotifier receives the full online-user list of an origin after
// every registration change. Snapshots stay scoped to the affected origin
// tag; there is no global broadcast.
type SnapshotNotifier interface {
	NotifyPresence(origin string, onlineUserIDs []string)
}

type entry struct {
	handle Handle
	origin string
}

// Registry maps online users to their live connection handle. One active
// entry per user id; a newer connection supersedes an older one, and a stale
// disconnect never evicts a fresher connection.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]entry
	notifier SnapshotNotifier
	logger   *logrus.Logger
}

func NewRegistry(notifier SnapshotNotifier, logger *logrus.Logger) *Registry {
	return &Registry{
		entries:  make(map[string]entry),
		notifier: notifier,
		logger:   logger,
	}
}

// Register records the connection handle for a user, replacing any prior
// entry, and broadcasts a presence snapshot within the user's origin.
func (r *Registry) Register(userID string, handle Handle, origin string) {
	r.mu.Lock()
	prev, had := r.entries[userID]
	r.entries[userID] = entry{handle: handle, origin: origin}
	r.mu.Unlock()

	fields := logrus.Fields{"userId": userID, "origin": origin, "conn": handle.ID()}
	if had {
		fields["replaced"] = prev.handle.ID()
	}
	r.logger.WithFields(fields).Debug("Registered presence")

	r.broadcastSnapshot(origin)
	if had && prev.origin != origin {
		// The user moved origins; the old partition loses them too.
		r.broadcastSnapshot(prev.origin)
	}
}

// Unregister removes the user's entry only when the stored handle is the one
// being removed. A disconnect of a superseded connection is a no-op, which
// guards the duplicate-connection race on quick reconnects.
func (r *Registry) Unregister(userID string, handle Handle) {
	r.mu.Lock()
	current, ok := r.entries[userID]
	if !ok || current.handle.ID() != handle.ID() {
		r.mu.Unlock()
		return
	}
	delete(r.entries, userID)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"userId": userID, "origin": current.origin}).Debug("Unregistered presence")
	r.broadcastSnapshot(current.origin)
}

// Lookup returns the user's live connection handle, if any.
func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// IsOnline reports whether the user has a live connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// ListByOrigin returns the online user ids within one origin tag, sorted.
func (r *Registry) ListByOrigin(origin string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []string
	for userID, e := range r.entries {
		if e.origin == origin {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users
}

func (r *Registry) broadcastSnapshot(origin string) {
	if r.notifier == nil {
		return
	}
	r.notifier.NotifyPresence(origin, r.ListByOrigin(origin))
}
