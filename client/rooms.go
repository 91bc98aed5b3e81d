package client

import (
	"context"
	"time"

	"github.com/classchat/classchat/models"
	"github.com/classchat/classchat/ws"
)

// SelectModule makes a module the active scope: its participants and group
// rooms are fetched into the registry and the realtime channel joins the
// module. Any active room is deselected, since rooms are module-scoped.
func (c *Client) SelectModule(ctx context.Context, moduleID string) error {
	_, reg, err := c.session()
	if err != nil {
		return err
	}

	participants, err := c.rest.ModuleParticipants(ctx, moduleID)
	if err != nil {
		return err
	}
	rooms, err := c.rest.GroupRooms(ctx, moduleID)
	if err != nil {
		return err
	}

	c.deselectRoom()
	c.mu.Lock()
	c.activeModule = moduleID
	c.mu.Unlock()

	reg.PutParticipants(participants)
	for _, room := range rooms {
		reg.PutRoom(room)
	}

	return c.emit(ws.JoinModule, ws.ModuleData{ModuleID: moduleID})
}

// OpenDirect activates the direct room with a peer in the active module,
// creating the room through the REST collaborator when it does not exist
// yet, and loads its history.
func (c *Client) OpenDirect(ctx context.Context, peerID string) (*models.Room, error) {
	_, reg, err := c.session()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	moduleID := c.activeModule
	c.mu.Unlock()
	if moduleID == "" {
		return nil, ErrNoModule
	}

	room, err := c.rest.DirectRoom(ctx, peerID, moduleID)
	if err != nil {
		return nil, err
	}
	reg.PutRoom(*room)
	if err := c.openRoom(ctx, room.ID); err != nil {
		return nil, err
	}
	return room, nil
}

// OpenGroup activates a group room and loads its history.
func (c *Client) OpenGroup(ctx context.Context, roomID string) error {
	if _, _, err := c.session(); err != nil {
		return err
	}
	return c.openRoom(ctx, roomID)
}

func (c *Client) openRoom(ctx context.Context, roomID string) error {
	_, reg, err := c.session()
	if err != nil {
		return err
	}
	history, err := c.rest.RoomMessages(ctx, roomID)
	if err != nil {
		return err
	}
	reg.LoadHistory(roomID, history)

	if err := c.emit(ws.JoinRoom, ws.RoomData{RoomID: roomID}); err != nil {
		return err
	}
	c.activateRoom(roomID)
	return nil
}

// activateRoom makes a room the active one, resets its unread counter and
// schedules the debounced mark-as-read signal. Activating another room (or
// deselecting) before the debounce fires cancels the signal.
func (c *Client) activateRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readTimer != nil {
		c.readTimer.Stop()
	}
	c.activeRoom = roomID
	if c.reg != nil {
		c.reg.ResetUnread(roomID)
	}
	c.readTimer = time.AfterFunc(c.markReadDelay, func() {
		c.mu.Lock()
		stillActive := c.activeRoom == roomID
		c.mu.Unlock()
		if !stillActive {
			return
		}
		if err := c.emit(ws.ReadRoom, ws.RoomData{RoomID: roomID}); err != nil {
			c.logger.Error("mark as read: " + err.Error())
		}
	})
}

// deselectRoom clears the active room and cancels a pending mark-as-read.
func (c *Client) deselectRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	c.activeRoom = ""
}

// ActiveRoom returns the id of the currently active room, empty when none.
func (c *Client) ActiveRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRoom
}

// ActiveModule returns the id of the currently selected module.
func (c *Client) ActiveModule() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeModule
}

// SetTyping reports the local user's typing state for a room.
func (c *Client) SetTyping(roomID string, typing bool) error {
	return c.emit(ws.Typing, ws.TypingData{RoomID: roomID, Typing: typing})
}

// DeleteMessage deletes a message for the local viewer or for everyone. The
// registry is updated immediately; the echoed event re-applies it
// idempotently on every other device.
func (c *Client) DeleteMessage(roomID, messageID string, scope models.DeletionScope) error {
	_, reg, err := c.session()
	if err != nil {
		return err
	}
	if err := reg.ApplyDeletion(roomID, messageID, scope, c.Self().ID); err != nil {
		return err
	}
	return c.emit(ws.DeleteMessage, ws.DeleteData{
		MessageID: messageID,
		RoomID:    roomID,
		Scope:     scope,
	})
}

// ClearChat clears a room's history for the local user and notifies the
// server.
func (c *Client) ClearChat(roomID string) error {
	_, reg, err := c.session()
	if err != nil {
		return err
	}
	reg.ClearRoom(roomID)
	return c.emit(ws.ClearChat, ws.RoomData{RoomID: roomID})
}
