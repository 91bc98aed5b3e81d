package state

import (
	"slices"
	"time"
)

// ApplyTyping adds or removes a user from a room's typing set. A typing
// start schedules expiry after the quiet window; re-triggering replaces the
// previous timer instead of stacking a second callback, and an explicit stop
// cancels it. Close cancels any timers still pending.
func (r *Registry) ApplyTyping(roomID, userID string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := typingKey{roomID: roomID, userID: userID}
	if t, ok := r.typingTimers[key]; ok {
		t.Stop()
		delete(r.typingTimers, key)
	}
	if !typing {
		r.removeTyping(key)
		return
	}
	set, ok := r.typing[roomID]
	if !ok {
		set = make(map[string]struct{})
		r.typing[roomID] = set
	}
	set[userID] = struct{}{}
	if !r.closed {
		var t *time.Timer
		t = time.AfterFunc(r.typingWindow, func() {
			r.expireTyping(key, t)
		})
		r.typingTimers[key] = t
	}
	r.notify()
}

// expireTyping removes a typing entry when its quiet window elapses. The
// timer identity check discards callbacks from timers that were already
// replaced or cancelled.
func (r *Registry) expireTyping(key typingKey, t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.typingTimers[key]
	if !ok || current != t {
		return
	}
	delete(r.typingTimers, key)
	r.removeTyping(key)
}

// removeTyping must be called with the lock held.
func (r *Registry) removeTyping(key typingKey) {
	set, ok := r.typing[key.roomID]
	if !ok {
		return
	}
	if _, ok := set[key.userID]; !ok {
		return
	}
	delete(set, key.userID)
	if len(set) == 0 {
		delete(r.typing, key.roomID)
	}
	r.notify()
}

// TypingUsers returns the users currently typing in a room, sorted by id.
func (r *Registry) TypingUsers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.typing[roomID]
	users := make([]string, 0, len(set))
	for u := range set {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}
