package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/classchat/classchat/models"
	"github.com/classchat/classchat/rest"
	"github.com/classchat/classchat/state"
	"github.com/classchat/classchat/ws"
)

const (
	// markReadDelay debounces the mark-as-read signal after a room is
	// activated, so a quick glance does not count as read.
	markReadDelay = time.Second

	// sendAttempts and resendInterval bound the outbox: a message still
	// unconfirmed after the attempts transitions to failed and waits for
	// a user-triggered retry.
	sendAttempts   = 3
	resendInterval = 5 * time.Second
)

var (
	// ErrNotAuthenticated is returned for operations that need a live
	// session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoModule is returned when a room operation happens before a
	// module is selected.
	ErrNoModule = errors.New("no module selected")
)

// Client owns one user session: the REST client, the realtime connection and
// the state registries. Construct with New, establish a session with Login
// or Resume, and tear everything down with Logout.
type Client struct {
	rest      *rest.Client
	socketURL string
	logger    *slog.Logger

	regOpts        []state.Option
	markReadDelay  time.Duration
	sendAttempts   int
	resendInterval time.Duration

	mu           sync.Mutex
	self         models.User
	reg          *state.Registry
	conn         *ws.Conn
	activeModule string
	activeRoom   string
	readTimer    *time.Timer
	outbox       map[string]*ws.Event
	listenCtx    context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRegistryOptions passes options through to the session's registry.
func WithRegistryOptions(opts ...state.Option) Option {
	return func(c *Client) {
		c.regOpts = opts
	}
}

// WithMarkReadDelay overrides the mark-as-read debounce.
func WithMarkReadDelay(d time.Duration) Option {
	return func(c *Client) {
		c.markReadDelay = d
	}
}

// WithOutbox overrides the send attempt count and resend interval.
func WithOutbox(attempts int, interval time.Duration) Option {
	return func(c *Client) {
		c.sendAttempts = attempts
		c.resendInterval = interval
	}
}

// New creates a client talking to the given REST endpoint and realtime
// socket URL.
func New(restClient *rest.Client, socketURL string, opts ...Option) *Client {
	c := &Client{
		rest:           restClient,
		socketURL:      socketURL,
		logger:         slog.Default(),
		markReadDelay:  markReadDelay,
		sendAttempts:   sendAttempts,
		resendInterval: resendInterval,
		outbox:         make(map[string]*ws.Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "client"))
	return c
}

// Login authenticates with credentials and connects the realtime channel.
func (c *Client) Login(ctx context.Context, creds rest.Credentials) error {
	session, err := c.rest.Login(ctx, creds)
	if err != nil {
		return err
	}
	return c.establish(ctx, session.User)
}

// Resume restores a session from the token already held by the REST client.
// An expired or rejected token surfaces as rest.ErrUnauthorized and the
// caller should fall back to Login.
func (c *Client) Resume(ctx context.Context) error {
	if c.rest.Token() == "" {
		return rest.ErrUnauthorized
	}
	user, err := c.rest.Me(ctx)
	if err != nil {
		if errors.Is(err, rest.ErrUnauthorized) {
			c.rest.ClearToken()
		}
		return err
	}
	return c.establish(ctx, *user)
}

func (c *Client) establish(ctx context.Context, user models.User) error {
	conn, err := ws.Dial(ctx, c.socketURL, c.rest.Token(), ws.WithLogger(c.logger))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.self = user
	c.reg = state.NewRegistry(user.ID, c.regOpts...)
	c.conn = conn
	listenCtx, cancel := context.WithCancel(context.Background())
	c.listenCtx = listenCtx
	c.cancel = cancel
	c.mu.Unlock()

	router := ws.NewRouter(c.logger)
	c.registerHandlers(router)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		router.Listen(listenCtx, conn.Receive())
	}()

	c.logger.Info("session established", slog.String("user", user.ID))
	return nil
}

// Logout tears the session down: the socket closes, registry timers stop and
// the stored token is discarded.
func (c *Client) Logout() {
	c.mu.Lock()
	conn := c.conn
	reg := c.reg
	cancel := c.cancel
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	c.conn = nil
	c.reg = nil
	c.listenCtx = nil
	c.cancel = nil
	c.activeModule = ""
	c.activeRoom = ""
	c.outbox = make(map[string]*ws.Event)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	if reg != nil {
		reg.Close()
	}
	c.rest.ClearToken()
	c.logger.Info("session closed")
}

// Registry exposes the session's registries for rendering. It returns nil
// when no session is established.
func (c *Client) Registry() *state.Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg
}

// Self returns the logged-in user.
func (c *Client) Self() models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Rest exposes the underlying REST client (admin surface included).
func (c *Client) Rest() *rest.Client {
	return c.rest
}

// Disconnected is closed when the realtime connection drops. It returns nil
// when no session is established.
func (c *Client) Disconnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Done()
}

// session returns the live connection and registry or ErrNotAuthenticated.
func (c *Client) session() (*ws.Conn, *state.Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.reg == nil {
		return nil, nil, ErrNotAuthenticated
	}
	return c.conn, c.reg, nil
}

func (c *Client) emit(eventType string, payload interface{}) error {
	conn, _, err := c.session()
	if err != nil {
		return err
	}
	e, err := ws.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	return conn.Send(e)
}
