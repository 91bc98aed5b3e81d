package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/classchat/classchat/metrics"
	"github.com/classchat/classchat/models"
	"github.com/classchat/classchat/state"
	"github.com/classchat/classchat/ws"
)

// registerHandlers wires the inbound event types into the session registry.
// Handlers run on the router's dispatch loop, so mutations happen in
// transport-delivery order.
func (c *Client) registerHandlers(router *ws.Router) {
	router.On(ws.NewMessage, c.handleNewMessage)
	router.On(ws.Notification, c.handleNotification)
	router.On(ws.MessageStatus, c.handleStatus)
	router.On(ws.MessageDeleted, c.handleDeleted)
	router.On(ws.Presence, c.handlePresence)
	router.On(ws.UserTyping, c.handleTyping)
	router.On(ws.ChatCleared, c.handleCleared)
}

// registry returns the session registry, nil once the session is torn down.
// Handlers treat nil as a signal to drop the event.
func (c *Client) registry() *state.Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg
}

func (c *Client) handleNewMessage(_ context.Context, e *ws.Event) error {
	var data ws.MessageData
	if err := json.Unmarshal(e.Payload, &data); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	reg := c.registry()
	if reg == nil {
		return nil
	}

	// a message carrying one of our correlation ids is the echo of an
	// optimistic send: settle the outbox entry before reconciling
	if data.ClientID != "" && data.Sender == reg.Self() {
		if c.confirm(data.ClientID) {
			metrics.IncReconciled()
			c.logger.Debug("message confirmed", slog.String("client_id", data.ClientID))
		}
	}

	if reg.Reconcile(data.Message()) {
		c.bumpUnread(reg, data.RoomID, data.Sender)
	}
	return nil
}

// handleNotification covers the out-of-room delivery path: the server sends a
// notification instead of (or alongside) the room broadcast when the
// recipient has not joined the room. Reconcile dedups the message itself and
// reports the first sighting, so an overlap of the two paths counts one
// unread, not two.
func (c *Client) handleNotification(_ context.Context, e *ws.Event) error {
	var data ws.MessageData
	if err := json.Unmarshal(e.Payload, &data); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	reg := c.registry()
	if reg == nil {
		return nil
	}
	if reg.Reconcile(data.Message()) {
		c.bumpUnread(reg, data.RoomID, data.Sender)
	}
	return nil
}

// bumpUnread increments the unread counter unless the message is our own or
// the room is on screen.
func (c *Client) bumpUnread(reg *state.Registry, roomID, sender string) {
	if sender == reg.Self() {
		return
	}
	c.mu.Lock()
	active := c.activeRoom == roomID
	c.mu.Unlock()
	if !active {
		reg.IncrementUnread(roomID)
	}
}

func (c *Client) handleStatus(_ context.Context, e *ws.Event) error {
	var data ws.StatusData
	if err := json.Unmarshal(e.Payload, &data); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	reg := c.registry()
	if reg == nil {
		return nil
	}
	return reg.ApplyStatus(data.RoomID, data.UserID, data.Status)
}

func (c *Client) handleDeleted(_ context.Context, e *ws.Event) error {
	var data ws.DeleteData
	if err := json.Unmarshal(e.Payload, &data); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	reg := c.registry()
	if reg == nil {
		return nil
	}
	if err := reg.ApplyDeletion(data.RoomID, data.MessageID, data.Scope, data.Actor); err != nil {
		// deletions can race history loads, an unknown message is not
		// worth surfacing
		if errors.Is(err, models.ErrUnknownMessage) {
			c.logger.Debug("deletion for unknown message", slog.String("message_id", data.MessageID))
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) handlePresence(_ context.Context, e *ws.Event) error {
	var data ws.PresenceData
	if err := json.Unmarshal(e.Payload, &data); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	reg := c.registry()
	if reg == nil {
		return nil
	}
	reg.ApplyPresence(data.UserID, data.Online)
	return nil
}

func (c *Client) handleTyping(_ context.Context, e *ws.Event) error {
	var data ws.TypingData
	if err := json.Unmarshal(e.Payload, &data); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	reg := c.registry()
	if reg == nil {
		return nil
	}
	// our own typing echo is not rendered
	if data.UserID == reg.Self() {
		return nil
	}
	reg.ApplyTyping(data.RoomID, data.UserID, data.Typing)
	return nil
}

func (c *Client) handleCleared(_ context.Context, e *ws.Event) error {
	var data ws.RoomData
	if err := json.Unmarshal(e.Payload, &data); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	reg := c.registry()
	if reg == nil {
		return nil
	}
	reg.ClearRoom(data.RoomID)
	return nil
}
