package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/classchat/classchat/models"
)

type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

// Session is the result of a successful authentication.
type Session struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Login exchanges credentials for a bearer token and stores the token on the
// client.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if err := validate.Struct(creds); err != nil {
		return nil, fmt.Errorf("validate credentials: %w", err)
	}
	session := &Session{}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", creds, session); err != nil {
		return nil, err
	}
	c.SetToken(session.Token)
	return session, nil
}

// Register creates an account and returns the authenticated session.
func (c *Client) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("validate registration: %w", err)
	}
	session := &Session{}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", input, session); err != nil {
		return nil, err
	}
	c.SetToken(session.Token)
	return session, nil
}

// Me fetches the profile of the current token's user.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	user := &models.User{}
	if err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, user); err != nil {
		return nil, err
	}
	return user, nil
}
