package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/classchat/classchat/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	// ErrNotConnected is returned when an event is sent on a connection
	// that has been closed or has dropped. Callers decide whether to
	// queue, retry or surface the failure; events are never silently
	// dropped.
	ErrNotConnected = errors.New("not connected")
	// ErrUnauthorized is returned when the server rejects the bearer
	// token at connect time.
	ErrUnauthorized = errors.New("unauthorized")
)

// Conn is the client side of the realtime channel. It is explicitly
// constructed by Dial and owned by whoever holds the registries; Close tears
// it down on logout. There is no package-level singleton.
type Conn struct {
	conn   *websocket.Conn
	send   chan *Event
	recv   chan *Event
	done   chan struct{}
	ticker *time.Ticker
	logger *slog.Logger

	// closeGrace bounds how long Close waits for the peer to answer the
	// close handshake before dropping the transport.
	closeGrace time.Duration

	closeOnce sync.Once
	wg        sync.WaitGroup
}

type DialOption func(*Conn)

func WithLogger(logger *slog.Logger) DialOption {
	return func(c *Conn) {
		c.logger = logger
	}
}

// WithSendBuffer sets the size of the outbound event buffer.
func WithSendBuffer(n int) DialOption {
	return func(c *Conn) {
		c.send = make(chan *Event, n)
	}
}

// Dial connects to the realtime channel, authenticating with the bearer
// token issued by the REST collaborator.
func Dial(ctx context.Context, url, token string, opts ...DialOption) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	wsConn, res, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if res != nil && res.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		conn:       wsConn,
		send:       make(chan *Event, 64),
		recv:       make(chan *Event, 64),
		done:       make(chan struct{}),
		ticker:     time.NewTicker(pingPeriod),
		logger:     slog.Default(),
		closeGrace: writeWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "ws"))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()
	metrics.IncConnects()

	return c, nil
}

// Receive returns the channel of inbound events. It is closed when the
// connection drops or is closed.
func (c *Conn) Receive() <-chan *Event {
	return c.recv
}

// Done is closed once the connection is no longer usable, whether by Close
// or by the transport dropping.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send queues an event for delivery. It returns ErrNotConnected when the
// connection is closed, and an error when the outbound buffer stays full for
// a write window.
func (c *Conn) Send(e *Event) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.send <- e:
		metrics.IncEventOut(e.Type)
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-time.After(writeWait):
		return fmt.Errorf("send %s: outbound buffer full", e.Type)
	}
}

// Close initiates a graceful shutdown: the write loop flushes a close
// message and the read loop exits once the peer answers the handshake. A
// peer that never answers within the grace window gets the transport closed
// under it; websocket.Conn.Close is the one call documented safe alongside a
// concurrent read. Close is idempotent and safe to call from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	loops := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(loops)
	}()
	select {
	case <-loops:
	case <-time.After(c.closeGrace):
		c.logger.Debug("close handshake timed out")
		c.conn.Close()
		<-loops
	}
}

func (c *Conn) readLoop() {
	defer func() {
		c.closeOnce.Do(func() {
			close(c.done)
		})
		c.conn.Close()
		close(c.recv)
		metrics.IncDisconnects()
		c.logger.Debug("read loop stopped")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Error(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}
		metrics.IncEventIn(event.Type)

		select {
		case c.recv <- &event:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeLoop() {
	var err error
	defer func() {
		c.ticker.Stop()
		if err != nil {
			c.conn.Close()
		}
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case e := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, werr := c.conn.NextWriter(websocket.TextMessage)
			if werr != nil {
				err = werr
				c.logger.Error(fmt.Sprintf("NextWriter: %v", werr))
				return
			}
			if err := EncodeEvent(w, e); err != nil {
				c.logger.Error(err.Error())
			}
			w.Close()
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("writing ping: %v", err))
				return
			}
		}
	}
}
