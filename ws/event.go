package ws

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/classchat/classchat/models"
)

// Event types sent by the client.
const (
	JoinModule    = "join_module"
	JoinRoom      = "join_room"
	SendMessage   = "send_message"
	Typing        = "typing"
	ReadRoom      = "read_room"
	DeleteMessage = "delete_message"
	ClearChat     = "clear_chat"
)

// Event types pushed by the server.
const (
	NewMessage     = "new_message"
	Notification   = "new_message_notification"
	MessageStatus  = "message_status"
	MessageDeleted = "message_deleted"
	Presence       = "user_presence"
	UserTyping     = "user_typing"
	ChatCleared    = "chat_cleared"
)

// Event is the envelope every frame on the realtime channel carries. The
// payload is decoded into an event-specific type by the handler.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Payload.Size: %d}", e.Type, len(e.Payload))
}

// NewEvent marshals payload into an event envelope.
func NewEvent(t string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{Type: t, Payload: b}, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// MessageData is the payload of SendMessage, NewMessage and Notification
// events.
type MessageData struct {
	ID       string             `json:"id,omitempty"`
	ClientID string             `json:"client_message_id,omitempty"`
	RoomID   string             `json:"room_id"`
	Kind     models.MessageKind `json:"kind"`
	Content  string             `json:"content"`
	Media    *models.MediaRef   `json:"media,omitempty"`
	// Target is the recipient of a direct message that may not have a
	// room joined yet.
	Target  string    `json:"target,omitempty"`
	ReplyTo string    `json:"reply_to,omitempty"`
	Sender  string    `json:"sender,omitempty"`
	SentAt  time.Time `json:"sent_at,omitempty"`
}

// Message converts the payload into the registry's message type.
func (d MessageData) Message() *models.Message {
	return &models.Message{
		ID:       d.ID,
		ClientID: d.ClientID,
		RoomID:   d.RoomID,
		Sender:   d.Sender,
		Kind:     d.Kind,
		Content:  d.Content,
		Media:    d.Media,
		ReplyTo:  d.ReplyTo,
		SentAt:   d.SentAt,
	}
}

// StatusData is the payload of MessageStatus and ReadRoom events.
type StatusData struct {
	RoomID string                `json:"room_id"`
	UserID string                `json:"user_id"`
	Status models.DeliveryStatus `json:"status,omitempty"`
}

// TypingData is the payload of Typing and UserTyping events.
type TypingData struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id,omitempty"`
	Typing bool   `json:"typing"`
}

// PresenceData is the payload of Presence events.
type PresenceData struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// DeleteData is the payload of DeleteMessage and MessageDeleted events.
type DeleteData struct {
	MessageID string               `json:"message_id"`
	RoomID    string               `json:"room_id"`
	Scope     models.DeletionScope `json:"scope"`
	Actor     string               `json:"actor,omitempty"`
}

// RoomData is the payload of JoinRoom, ReadRoom and ChatCleared events.
type RoomData struct {
	RoomID string `json:"room_id"`
}

// ModuleData is the payload of JoinModule events.
type ModuleData struct {
	ModuleID string `json:"module_id"`
}
