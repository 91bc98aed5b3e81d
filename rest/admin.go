package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/classchat/classchat/models"
)

// AdminClient exposes the moderation endpoints. These are plain
// request/response calls with no local state beyond the latest fetch, so the
// client stays a thin wrapper.
type AdminClient struct {
	c *Client
}

// Admin returns the moderation surface of the API. The server rejects calls
// from non-admin tokens.
func (c *Client) Admin() *AdminClient {
	return &AdminClient{c: c}
}

// PageQuery selects a slice of a paginated admin listing.
type PageQuery struct {
	Offset int
	Limit  int
	// Search filters the listing by the server's free-text match.
	Search string
}

func (q PageQuery) values() url.Values {
	v := url.Values{}
	v.Set("offset", strconv.Itoa(q.Offset))
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Search != "" {
		v.Set("q", q.Search)
	}
	return v
}

// Page is one slice of a paginated listing.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// AuditEntry is one row of the moderation audit log.
type AuditEntry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HealthSnapshot is the server's health report.
type HealthSnapshot struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime_seconds"`
	Maintenance bool    `json:"maintenance"`
}

// MetricsSnapshot is the server's latest metrics report. Values are keyed by
// metric name; the dashboard renders whatever the server sends.
type MetricsSnapshot map[string]float64

func listPage[T any](ctx context.Context, c *Client, path string, q PageQuery) (*Page[T], error) {
	page := &Page[T]{}
	if err := c.doJSON(ctx, http.MethodGet, path+"?"+q.values().Encode(), nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (a *AdminClient) ListUsers(ctx context.Context, q PageQuery) (*Page[models.User], error) {
	return listPage[models.User](ctx, a.c, "/admin/users", q)
}

type UserUpdate struct {
	Name string      `json:"name,omitempty"`
	Role models.Role `json:"role,omitempty"`
	Tier string      `json:"tier,omitempty"`
}

func (a *AdminClient) UpdateUser(ctx context.Context, userID string, update UserUpdate) error {
	return a.c.doJSON(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(userID), update, nil)
}

func (a *AdminClient) DeleteUser(ctx context.Context, userID string) error {
	return a.c.doJSON(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(userID), nil, nil)
}

// SetBanned bans or unbans a user.
func (a *AdminClient) SetBanned(ctx context.Context, userID string, banned bool) error {
	action := "ban"
	if !banned {
		action = "unban"
	}
	path := fmt.Sprintf("/admin/users/%s/%s", url.PathEscape(userID), action)
	return a.c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

func (a *AdminClient) ListMessages(ctx context.Context, q PageQuery) (*Page[models.Message], error) {
	return listPage[models.Message](ctx, a.c, "/admin/messages", q)
}

func (a *AdminClient) DeleteMessage(ctx context.Context, messageID string) error {
	return a.c.doJSON(ctx, http.MethodDelete, "/admin/messages/"+url.PathEscape(messageID), nil, nil)
}

func (a *AdminClient) ListModules(ctx context.Context, q PageQuery) (*Page[models.Module], error) {
	return listPage[models.Module](ctx, a.c, "/admin/modules", q)
}

type ModuleUpdate struct {
	Name string `json:"name,omitempty"`
	Code string `json:"code,omitempty"`
}

func (a *AdminClient) UpdateModule(ctx context.Context, moduleID string, update ModuleUpdate) error {
	return a.c.doJSON(ctx, http.MethodPut, "/admin/modules/"+url.PathEscape(moduleID), update, nil)
}

func (a *AdminClient) DeleteModule(ctx context.Context, moduleID string) error {
	return a.c.doJSON(ctx, http.MethodDelete, "/admin/modules/"+url.PathEscape(moduleID), nil, nil)
}

func (a *AdminClient) AuditLog(ctx context.Context, q PageQuery) (*Page[AuditEntry], error) {
	return listPage[AuditEntry](ctx, a.c, "/admin/audit", q)
}

func (a *AdminClient) Health(ctx context.Context) (*HealthSnapshot, error) {
	health := &HealthSnapshot{}
	if err := a.c.doJSON(ctx, http.MethodGet, "/admin/health", nil, health); err != nil {
		return nil, err
	}
	return health, nil
}

func (a *AdminClient) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	snapshot := MetricsSnapshot{}
	if err := a.c.doJSON(ctx, http.MethodGet, "/admin/metrics", nil, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SetMaintenance toggles the platform's maintenance mode.
func (a *AdminClient) SetMaintenance(ctx context.Context, enabled bool) error {
	body := struct {
		Enabled bool `json:"enabled"`
	}{Enabled: enabled}
	return a.c.doJSON(ctx, http.MethodPost, "/admin/maintenance", body, nil)
}
