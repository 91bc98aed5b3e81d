package state

import (
	"fmt"
	"time"

	"github.com/classchat/classchat/models"
)

// AppendLocal inserts an optimistic message at the end of its room's
// sequence in sending status. The caller is responsible for generating a
// fresh client correlation id; the message becomes visible locally before
// any network round trip.
func (r *Registry) AppendLocal(msg *models.Message) error {
	if msg.RoomID == "" {
		return models.ErrInvalidRoom
	}
	if msg.ClientID == "" {
		return fmt.Errorf("%w: missing client id", models.ErrInvalidMessage)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	local := msg.Clone()
	local.Status = models.StatusSending
	if local.SentAt.IsZero() {
		local.SentAt = time.Now()
	}
	if local.DeliveredTo == nil {
		local.DeliveredTo = make(map[string]struct{})
	}
	if local.ReadBy == nil {
		local.ReadBy = make(map[string]struct{})
	}
	r.rooms[msg.RoomID] = append(r.rooms[msg.RoomID], local)
	r.notify()
	return nil
}

// Reconcile merges a server-pushed message into its room's sequence. A local
// entry with a matching correlation id (or stable id) is upgraded in place:
// it takes the authoritative id and timestamp and its status advances to at
// least sent. When no entry matches, the message is appended at the end,
// guarded against duplicates by checking both ids. Applying the same
// confirmed message twice is a no-op beyond the first.
//
// The return value reports whether the message was seen for the first time.
// The broadcast and notification delivery paths can both carry the same
// message; side effects that must happen once per logical message (unread
// counting) key off this.
func (r *Registry) Reconcile(in *models.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := r.rooms[in.RoomID]
	for _, existing := range seq {
		if !existing.SameAs(in) {
			continue
		}
		if in.ID != "" {
			existing.ID = in.ID
		}
		if !in.SentAt.IsZero() {
			existing.SentAt = in.SentAt
		}
		if existing.Status.Advances(models.StatusSent) || existing.Status == models.StatusFailed {
			existing.Status = models.StatusSent
		}
		r.notify()
		return false
	}

	msg := in.Clone()
	if msg.Status == "" || msg.Status == models.StatusSending {
		msg.Status = models.StatusSent
	}
	if msg.DeliveredTo == nil {
		msg.DeliveredTo = make(map[string]struct{})
	}
	if msg.ReadBy == nil {
		msg.ReadBy = make(map[string]struct{})
	}
	r.rooms[in.RoomID] = append(seq, msg)
	r.notify()
	return true
}

// ApplyStatus records a delivered or read acknowledgement from actor for
// every message authored by the local user in the room. Read implies
// delivered, and a message already marked read never regresses.
func (r *Registry) ApplyStatus(roomID, actor string, status models.DeliveryStatus) error {
	if status != models.StatusDelivered && status != models.StatusRead {
		return fmt.Errorf("%w: status %q", models.ErrInvalidMessage, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, msg := range r.rooms[roomID] {
		if msg.Sender != r.self {
			continue
		}
		if msg.DeliveredTo == nil {
			msg.DeliveredTo = make(map[string]struct{})
		}
		if msg.ReadBy == nil {
			msg.ReadBy = make(map[string]struct{})
		}
		if _, ok := msg.DeliveredTo[actor]; !ok {
			msg.DeliveredTo[actor] = struct{}{}
			changed = true
		}
		if status == models.StatusRead {
			if _, ok := msg.ReadBy[actor]; !ok {
				msg.ReadBy[actor] = struct{}{}
				changed = true
			}
		}
		if msg.Status.Advances(status) {
			msg.Status = status
			changed = true
		}
	}
	if changed {
		r.notify()
	}
	return nil
}

// ApplyDeletion applies a deletion event to a message. Self scope hides the
// message from actor only; everyone scope turns the message into a tombstone
// for all viewers. Tombstones are irreversible and the message is never
// removed from the sequence.
func (r *Registry) ApplyDeletion(roomID, messageID string, scope models.DeletionScope, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var target *models.Message
	for _, msg := range r.rooms[roomID] {
		if msg.ID == messageID || (msg.ClientID != "" && msg.ClientID == messageID) {
			target = msg
			break
		}
	}
	if target == nil {
		return models.ErrUnknownMessage
	}
	switch scope {
	case models.DeleteForMe:
		if target.DeletedFor == nil {
			target.DeletedFor = make(map[string]struct{})
		}
		target.DeletedFor[actor] = struct{}{}
	case models.DeleteForEveryone:
		target.Deleted = true
		target.Content = models.TombstoneContent
		target.Media = nil
	default:
		return models.ErrInvalidScope
	}
	r.notify()
	return nil
}

// ClearRoom drops a room's message sequence.
func (r *Registry) ClearRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rooms[roomID]) == 0 {
		return
	}
	r.rooms[roomID] = nil
	r.notify()
}

// MarkFailed transitions a message still in sending status to failed. It
// reports whether a message was transitioned.
func (r *Registry) MarkFailed(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := r.findByClientID(clientID)
	if msg == nil || msg.Status != models.StatusSending {
		return false
	}
	msg.Status = models.StatusFailed
	r.notify()
	return true
}

// MarkSending moves a failed message back to sending status for a retry. It
// reports whether a message was transitioned.
func (r *Registry) MarkSending(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := r.findByClientID(clientID)
	if msg == nil || msg.Status != models.StatusFailed {
		return false
	}
	msg.Status = models.StatusSending
	r.notify()
	return true
}

// findByClientID must be called with the lock held.
func (r *Registry) findByClientID(clientID string) *models.Message {
	if clientID == "" {
		return nil
	}
	for _, seq := range r.rooms {
		for _, msg := range seq {
			if msg.ClientID == clientID {
				return msg
			}
		}
	}
	return nil
}

// Messages returns a snapshot of a room's messages in arrival order.
func (r *Registry) Messages(roomID string) []*models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seq := r.rooms[roomID]
	out := make([]*models.Message, 0, len(seq))
	for _, msg := range seq {
		out = append(out, msg.Clone())
	}
	return out
}

// VisibleMessages returns the snapshot a given viewer would render:
// messages the viewer deleted for themselves are omitted, tombstones are
// included with the placeholder content.
func (r *Registry) VisibleMessages(roomID, viewer string) []*models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seq := r.rooms[roomID]
	out := make([]*models.Message, 0, len(seq))
	for _, msg := range seq {
		if msg.HiddenFrom(viewer) {
			continue
		}
		out = append(out, msg.Clone())
	}
	return out
}

// LoadHistory replaces a room's sequence with fetched history. Pending local
// messages (sending or failed) are carried over at the end so an in-flight
// optimistic send is not lost by opening the room.
func (r *Registry) LoadHistory(roomID string, history []*models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := make([]*models.Message, 0, len(history))
	for _, msg := range history {
		copied := msg.Clone()
		if copied.Status == "" {
			copied.Status = models.StatusSent
		}
		seq = append(seq, copied)
	}
	for _, msg := range r.rooms[roomID] {
		if msg.Status != models.StatusSending && msg.Status != models.StatusFailed {
			continue
		}
		duplicate := false
		for _, kept := range seq {
			if kept.SameAs(msg) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			seq = append(seq, msg)
		}
	}
	r.rooms[roomID] = seq
	r.notify()
}
