package models

import (
	"errors"
	"time"
)

// MessageKind determines how the content of a message should be interpreted.
type MessageKind string

const (
	// TextMessage indicates that Content is a UTF-8 encoded string.
	TextMessage MessageKind = "text"
	// VoiceMessage indicates that the message carries a voice note in Media.
	VoiceMessage MessageKind = "voice"
	// AttachmentMessage indicates that the message carries a file in Media.
	AttachmentMessage MessageKind = "attachment"
)

// DeliveryStatus represents the delivery state of a message from the
// perspective of its sender.
type DeliveryStatus string

const (
	// StatusSending is the initial status of a locally-originated message
	// that has not yet been confirmed by the server.
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	// StatusFailed is reachable only from StatusSending, after the send
	// outbox exhausts its attempts. A failed message can be retried.
	StatusFailed DeliveryStatus = "failed"
)

// statusRank orders the delivery statuses. A message's status may only move
// to a status with a higher rank. StatusFailed is a terminal branch off
// StatusSending and is not part of the order.
var statusRank = map[DeliveryStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Rank returns the position of s in the sending -> sent -> delivered -> read
// order, and false for statuses outside it.
func (s DeliveryStatus) Rank() (int, bool) {
	r, ok := statusRank[s]
	return r, ok
}

// Advances reports whether moving from s to next is a forward transition.
func (s DeliveryStatus) Advances(next DeliveryStatus) bool {
	cur, ok := s.Rank()
	if !ok {
		return false
	}
	n, ok := next.Rank()
	if !ok {
		return false
	}
	return n > cur
}

// DeletionScope selects who a message deletion applies to.
type DeletionScope string

const (
	// DeleteForMe hides the message from the acting viewer only.
	DeleteForMe DeletionScope = "me"
	// DeleteForEveryone replaces the message with a tombstone for all
	// viewers. It cannot be undone.
	DeleteForEveryone DeletionScope = "everyone"
)

// TombstoneContent replaces the content of a message deleted for everyone.
const TombstoneContent = "This message was deleted"

var (
	// ErrInvalidRoom is returned when a room is not found or is invalid.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrUnknownMessage is returned when a message cannot be located by
	// either its stable id or its client correlation id.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrInvalidScope is returned for an unrecognized deletion scope.
	ErrInvalidScope = errors.New("invalid deletion scope")
	// ErrInvalidMessage is returned when a message fails validation.
	ErrInvalidMessage = errors.New("invalid message")
)

// MediaRef points at an uploaded media object (voice note or attachment).
type MediaRef struct {
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	Size         int64  `json:"size,omitempty"`
	// Duration is the length of a voice note in seconds.
	Duration float64 `json:"duration,omitempty"`
}

// Message represents a chat message in a room, either originated locally
// (carrying a client correlation id until confirmed) or received from the
// realtime channel.
type Message struct {
	// ID is the stable server-assigned identifier. Empty until the
	// message is confirmed.
	ID string `json:"id,omitempty"`
	// ClientID is the client-generated correlation id attached to an
	// outgoing message and echoed back by the server on confirmation.
	ClientID string         `json:"client_message_id,omitempty"`
	RoomID   string         `json:"room_id"`
	Sender   string         `json:"sender"`
	Kind     MessageKind    `json:"kind"`
	Content  string         `json:"content"`
	Media    *MediaRef      `json:"media,omitempty"`
	Status   DeliveryStatus `json:"status"`
	// DeliveredTo and ReadBy hold the ids of participants that have
	// acknowledged the message.
	DeliveredTo map[string]struct{} `json:"-"`
	ReadBy      map[string]struct{} `json:"-"`
	SentAt      time.Time           `json:"sent_at"`
	// ReplyTo is the stable id of the message this one replies to.
	ReplyTo string `json:"reply_to,omitempty"`
	// DeletedFor holds the ids of viewers that deleted the message for
	// themselves. The message remains visible to everyone else.
	DeletedFor map[string]struct{} `json:"-"`
	// Deleted marks the message as a tombstone: deleted for everyone,
	// content replaced by TombstoneContent.
	Deleted bool `json:"deleted,omitempty"`
}

// SameAs reports whether other refers to the same message as m, matching by
// stable id first and falling back to the client correlation id.
func (m *Message) SameAs(other *Message) bool {
	if m.ID != "" && other.ID != "" && m.ID == other.ID {
		return true
	}
	return m.ClientID != "" && other.ClientID != "" && m.ClientID == other.ClientID
}

// HiddenFrom reports whether viewer should not see m.
func (m *Message) HiddenFrom(viewer string) bool {
	if m.DeletedFor == nil {
		return false
	}
	_, ok := m.DeletedFor[viewer]
	return ok
}

// Clone returns a deep copy of m. Registry reads hand out clones so that
// callers never observe later mutations.
func (m *Message) Clone() *Message {
	c := *m
	c.DeliveredTo = cloneSet(m.DeliveredTo)
	c.ReadBy = cloneSet(m.ReadBy)
	c.DeletedFor = cloneSet(m.DeletedFor)
	if m.Media != nil {
		media := *m.Media
		c.Media = &media
	}
	return &c
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	if s == nil {
		return nil
	}
	c := make(map[string]struct{}, len(s))
	for k := range s {
		c[k] = struct{}{}
	}
	return c
}
