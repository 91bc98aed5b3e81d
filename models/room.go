package models

// RoomKind represents the type of a chat room.
type RoomKind string

const (
	// DirectRoom is a room between exactly two participants. Only one
	// direct room can exist between a pair of participants in a module.
	DirectRoom RoomKind = "direct"
	// GroupRoom is a room with two or more participants.
	GroupRoom RoomKind = "group"
)

// Room represents a conversation scope within a module.
type Room struct {
	ID       string   `json:"id"`
	ModuleID string   `json:"module_id"`
	Kind     RoomKind `json:"kind"`
	Name     string   `json:"name"`
	// Members holds the ids of the room's participants.
	Members []string `json:"members"`
	// Unread is the number of messages received in the room while it was
	// not active.
	Unread int `json:"unread"`
}

// DirectPeer returns the member of a direct room that is not self, and false
// when the room is not direct or self is not a member.
func (r *Room) DirectPeer(self string) (string, bool) {
	if r.Kind != DirectRoom {
		return "", false
	}
	var peer string
	found := false
	for _, m := range r.Members {
		if m == self {
			found = true
			continue
		}
		peer = m
	}
	if !found || peer == "" {
		return "", false
	}
	return peer, true
}

// Module represents a course that scopes which rooms and participants a user
// can see.
type Module struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}
