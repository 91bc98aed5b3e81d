package state

import (
	"slices"
	"sync"
	"time"

	"github.com/classchat/classchat/models"
)

const (
	// DefaultTypingWindow is the quiet period after which a typing
	// indicator expires without an explicit stop event.
	DefaultTypingWindow = 3 * time.Second
)

type typingKey struct {
	roomID string
	userID string
}

// Registry holds the client's view of rooms, messages, presence, typing
// indicators and unread counters. All mutations go through the registry's
// methods and are serialized by a single lock, so observers never see a torn
// write. Reads hand out snapshots.
type Registry struct {
	mu sync.RWMutex

	// self is the id of the local user. Status events only apply to
	// messages authored by self.
	self string

	typingWindow time.Duration

	rooms        map[string][]*models.Message
	roomInfo     map[string]*models.Room
	participants map[string]*models.User
	typing       map[string]map[string]struct{}
	typingTimers map[typingKey]*time.Timer
	unread       map[string]int

	changes chan struct{}
	closed  bool
}

type Option func(*Registry)

// WithTypingWindow overrides the typing indicator expiry window.
func WithTypingWindow(d time.Duration) Option {
	return func(r *Registry) {
		r.typingWindow = d
	}
}

// NewRegistry creates a registry for the local user self.
func NewRegistry(self string, opts ...Option) *Registry {
	r := &Registry{
		self:         self,
		typingWindow: DefaultTypingWindow,
		rooms:        make(map[string][]*models.Message),
		roomInfo:     make(map[string]*models.Room),
		participants: make(map[string]*models.User),
		typing:       make(map[string]map[string]struct{}),
		typingTimers: make(map[typingKey]*time.Timer),
		unread:       make(map[string]int),
		changes:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Self returns the id of the local user.
func (r *Registry) Self() string {
	return r.self
}

// Changes returns a channel that receives a signal whenever the registry is
// mutated. Signals are coalesced: a slow observer sees at least one signal
// for any burst of mutations.
func (r *Registry) Changes() <-chan struct{} {
	return r.changes
}

// notify must be called with the lock held.
func (r *Registry) notify() {
	if r.closed {
		return
	}
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

// Close stops all typing timers and stops change notifications. The registry
// remains readable.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for key, t := range r.typingTimers {
		t.Stop()
		delete(r.typingTimers, key)
	}
	close(r.changes)
}

// PutRoom records or replaces room metadata.
func (r *Registry) PutRoom(room models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := room
	copied.Members = slices.Clone(room.Members)
	r.roomInfo[room.ID] = &copied
	if _, ok := r.rooms[room.ID]; !ok {
		r.rooms[room.ID] = nil
	}
	r.notify()
}

// Room returns a snapshot of the room metadata, including the current unread
// counter.
func (r *Registry) Room(roomID string) (models.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.roomInfo[roomID]
	if !ok {
		return models.Room{}, false
	}
	room := *info
	room.Members = slices.Clone(info.Members)
	room.Unread = r.unread[roomID]
	return room, true
}

// Rooms returns a snapshot of all known rooms.
func (r *Registry) Rooms() []models.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]models.Room, 0, len(r.roomInfo))
	for _, info := range r.roomInfo {
		room := *info
		room.Members = slices.Clone(info.Members)
		room.Unread = r.unread[info.ID]
		rooms = append(rooms, room)
	}
	slices.SortFunc(rooms, func(a, b models.Room) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return rooms
}

// PutParticipants records the participants of the selected module. Presence
// flags of already-known participants are preserved.
func (r *Registry) PutParticipants(users []models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range users {
		copied := u
		if existing, ok := r.participants[u.ID]; ok {
			copied.Online = existing.Online
		}
		r.participants[u.ID] = &copied
	}
	r.notify()
}

// Participant returns a snapshot of a participant.
func (r *Registry) Participant(userID string) (models.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.participants[userID]
	if !ok {
		return models.User{}, false
	}
	return *u, true
}

// Participants returns a snapshot of all known participants ordered by name.
func (r *Registry) Participants() []models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]models.User, 0, len(r.participants))
	for _, u := range r.participants {
		users = append(users, *u)
	}
	slices.SortFunc(users, func(a, b models.User) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return users
}

// ApplyPresence updates a participant's online flag. Presence for a user the
// registry has not seen yet is recorded so the flag survives a later
// PutParticipants.
func (r *Registry) ApplyPresence(userID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.participants[userID]
	if !ok {
		u = &models.User{ID: userID}
		r.participants[userID] = u
	}
	u.Online = online
	r.notify()
}

// IsOnline returns the presence flag for a user.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.participants[userID]
	return ok && u.Online
}

// IncrementUnread increments the unread counter of a room.
func (r *Registry) IncrementUnread(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unread[roomID]++
	r.notify()
}

// ResetUnread resets the unread counter of a room to zero.
func (r *Registry) ResetUnread(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unread[roomID] == 0 {
		return
	}
	r.unread[roomID] = 0
	r.notify()
}

// Unread returns the unread counter of a room.
func (r *Registry) Unread(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unread[roomID]
}
