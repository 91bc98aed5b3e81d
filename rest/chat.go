package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/classchat/classchat/models"
)

// Modules fetches the modules visible to the current user.
func (c *Client) Modules(ctx context.Context) ([]models.Module, error) {
	var modules []models.Module
	if err := c.doJSON(ctx, http.MethodGet, "/modules", nil, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// ModuleParticipants fetches the participants of a module.
func (c *Client) ModuleParticipants(ctx context.Context, moduleID string) ([]models.User, error) {
	var users []models.User
	path := fmt.Sprintf("/modules/%s/participants", url.PathEscape(moduleID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// DirectRoom fetches the direct room between the current user and peer in a
// module, creating it when none exists yet.
func (c *Client) DirectRoom(ctx context.Context, peerID, moduleID string) (*models.Room, error) {
	body := struct {
		PeerID   string `json:"peer_id"`
		ModuleID string `json:"module_id"`
	}{PeerID: peerID, ModuleID: moduleID}
	room := &models.Room{}
	if err := c.doJSON(ctx, http.MethodPost, "/rooms/direct", body, room); err != nil {
		return nil, err
	}
	return room, nil
}

// GroupRooms fetches the group rooms of a module.
func (c *Client) GroupRooms(ctx context.Context, moduleID string) ([]models.Room, error) {
	var rooms []models.Room
	path := fmt.Sprintf("/modules/%s/rooms", url.PathEscape(moduleID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// RoomMessages fetches the message history of a room in arrival order.
func (c *Client) RoomMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	var messages []*models.Message
	path := fmt.Sprintf("/rooms/%s/messages", url.PathEscape(roomID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
