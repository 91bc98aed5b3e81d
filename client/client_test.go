package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classchat/classchat/media"
	"github.com/classchat/classchat/models"
	"github.com/classchat/classchat/rest"
	"github.com/classchat/classchat/ws"
)

const testToken = "test-token"

var testSelf = models.User{ID: "u-self", Name: "Alice", Role: models.Student}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// backend fakes both collaborators behind one listener: the REST API under
// /api and the realtime channel under /ws.
type backend struct {
	t      *testing.T
	server *httptest.Server

	ready chan struct{}
	// sent receives every event the client writes to the socket.
	sent chan *ws.Event

	mu      sync.Mutex
	wsConn  *websocket.Conn
	echo    bool
	uploads int
	history map[string][]*models.Message
}

func newBackend(t *testing.T, echo bool) *backend {
	t.Helper()
	b := &backend{
		t:       t,
		ready:   make(chan struct{}),
		sent:    make(chan *ws.Event, 64),
		echo:    echo,
		history: map[string][]*models.Message{},
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, rest.Session{Token: testToken, User: testSelf})
		})
		r.Get("/users/me", b.authed(func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, testSelf)
		}))
		r.Get("/modules/{id}/participants", b.authed(func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, []models.User{
				testSelf,
				{ID: "u-peer", Name: "Bob", Role: models.Student},
			})
		}))
		r.Get("/modules/{id}/rooms", b.authed(func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, []models.Room{
				{ID: "room-g", ModuleID: chi.URLParam(req, "id"), Kind: models.GroupRoom, Name: "General"},
			})
		}))
		r.Post("/rooms/direct", b.authed(func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				PeerID   string `json:"peer_id"`
				ModuleID string `json:"module_id"`
			}
			require.NoError(b.t, json.NewDecoder(req.Body).Decode(&body))
			writeJSON(w, models.Room{
				ID:       "room-d",
				ModuleID: body.ModuleID,
				Kind:     models.DirectRoom,
				Members:  []string{testSelf.ID, body.PeerID},
			})
		}))
		r.Get("/rooms/{id}/messages", b.authed(func(w http.ResponseWriter, req *http.Request) {
			b.mu.Lock()
			history := b.history[chi.URLParam(req, "id")]
			b.mu.Unlock()
			if history == nil {
				history = []*models.Message{}
			}
			writeJSON(w, history)
		}))
		r.Post("/uploads/attachment", b.authed(func(w http.ResponseWriter, req *http.Request) {
			b.mu.Lock()
			b.uploads++
			b.mu.Unlock()
			writeJSON(w, models.MediaRef{URL: "/files/a1", MimeType: "image/png"})
		}))
		r.Post("/uploads/voice", b.authed(func(w http.ResponseWriter, req *http.Request) {
			b.mu.Lock()
			b.uploads++
			b.mu.Unlock()
			writeJSON(w, models.MediaRef{URL: "/files/v1", MimeType: "audio/webm", Duration: 2})
		}))
	})
	r.Get("/ws", b.handleSocket)

	b.server = httptest.NewServer(r)
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, req)
	}
}

func (b *backend) handleSocket(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := testUpgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.wsConn = conn
	b.mu.Unlock()
	close(b.ready)

	for {
		var e ws.Event
		if err := conn.ReadJSON(&e); err != nil {
			return
		}
		if e.Type == ws.SendMessage && b.echoing() {
			var data ws.MessageData
			if err := json.Unmarshal(e.Payload, &data); err == nil {
				data.ID = "srv-" + data.ClientID
				data.Sender = testSelf.ID
				data.SentAt = time.Now()
				b.push(b.t, ws.NewMessage, data)
			}
		}
		select {
		case b.sent <- &e:
		default:
		}
	}
}

func (b *backend) echoing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.echo
}

func (b *backend) setEcho(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.echo = on
}

// push sends an event to the connected client as the server.
func (b *backend) push(t *testing.T, eventType string, payload interface{}) {
	t.Helper()
	select {
	case <-b.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("no socket connection established")
	}
	e, err := ws.NewEvent(eventType, payload)
	require.NoError(t, err)
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NoError(t, b.wsConn.WriteJSON(e))
}

// awaitSent waits for the client to emit an event of the given type,
// discarding others.
func (b *backend) awaitSent(t *testing.T, eventType string) *ws.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-b.sent:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func (b *backend) uploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploads
}

func (b *backend) socketURL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/ws"
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, b *backend, opts ...Option) *Client {
	t.Helper()
	restClient, err := rest.New(b.server.URL)
	require.NoError(t, err)
	c := New(restClient, b.socketURL(), opts...)
	require.NoError(t, c.Login(context.Background(), rest.Credentials{
		Username: "alice",
		Password: "secret",
	}))
	t.Cleanup(c.Logout)
	require.NoError(t, c.SelectModule(context.Background(), "m1"))
	return c
}

func TestOptimisticSend(t *testing.T) {
	b := newBackend(t, true)
	c := newTestClient(t, b)
	require.NoError(t, c.OpenGroup(context.Background(), "room-g"))

	clientID, err := c.SendText("room-g", "hello", "")
	require.NoError(t, err)
	require.NotEmpty(t, clientID)

	// the optimistic entry is visible before any server roundtrip
	msgs := c.Registry().Messages("room-g")
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusSending, msgs[0].Status)
	assert.Equal(t, clientID, msgs[0].ClientID)

	// the echo upgrades the same entry in place, no duplicate appears
	assert.Eventually(t, func() bool {
		msgs := c.Registry().Messages("room-g")
		return len(msgs) == 1 && msgs[0].Status == models.StatusSent
	}, 2*time.Second, 10*time.Millisecond)

	msgs = c.Registry().Messages("room-g")
	assert.Equal(t, "srv-"+clientID, msgs[0].ID)

	// confirmation settles the outbox, there is nothing left to retry
	assert.Eventually(t, func() bool {
		return errors.Is(c.Retry(clientID), ErrUnknownClientID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDirectRoomTarget(t *testing.T) {
	b := newBackend(t, true)
	c := newTestClient(t, b)

	room, err := c.OpenDirect(context.Background(), "u-peer")
	require.NoError(t, err)
	require.Equal(t, "room-d", room.ID)
	b.awaitSent(t, ws.JoinRoom)

	_, err = c.SendText(room.ID, "hi bob", "")
	require.NoError(t, err)

	e := b.awaitSent(t, ws.SendMessage)
	var data ws.MessageData
	require.NoError(t, json.Unmarshal(e.Payload, &data))
	assert.Equal(t, "u-peer", data.Target)
	assert.NotEmpty(t, data.ClientID)
}

func TestUnreadTracking(t *testing.T) {
	b := newBackend(t, true)
	c := newTestClient(t, b)

	incoming := ws.MessageData{
		ID:      "m-1",
		RoomID:  "room-g",
		Sender:  "u-peer",
		Kind:    models.TextMessage,
		Content: "psst",
		SentAt:  time.Now(),
	}
	b.push(t, ws.Notification, incoming)

	assert.Eventually(t, func() bool {
		return c.Registry().Unread("room-g") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// opening the room resets the counter
	require.NoError(t, c.OpenGroup(context.Background(), "room-g"))
	assert.Equal(t, 0, c.Registry().Unread("room-g"))

	// messages for the room on screen do not count
	incoming.ID = "m-2"
	b.push(t, ws.NewMessage, incoming)
	assert.Eventually(t, func() bool {
		return len(c.Registry().Messages("room-g")) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Registry().Unread("room-g"))
}

func TestUnreadOverlapCountsOnce(t *testing.T) {
	b := newBackend(t, true)
	c := newTestClient(t, b)

	incoming := ws.MessageData{
		ID:      "m-dup",
		RoomID:  "room-g",
		Sender:  "u-peer",
		Kind:    models.TextMessage,
		Content: "hello twice",
		SentAt:  time.Now(),
	}
	// the broadcast and notification paths both deliver the same message
	b.push(t, ws.NewMessage, incoming)
	b.push(t, ws.Notification, incoming)
	// dispatch is ordered, so once this typing event lands both copies
	// have been processed
	b.push(t, ws.UserTyping, ws.TypingData{RoomID: "room-g", UserID: "u-peer", Typing: true})

	assert.Eventually(t, func() bool {
		return len(c.Registry().TypingUsers("room-g")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, c.Registry().Messages("room-g"), 1)
	assert.Equal(t, 1, c.Registry().Unread("room-g"))
}

func TestMarkReadDebounce(t *testing.T) {
	t.Run("fires for the room still active", func(t *testing.T) {
		b := newBackend(t, true)
		c := newTestClient(t, b, WithMarkReadDelay(30*time.Millisecond))

		require.NoError(t, c.OpenGroup(context.Background(), "room-g"))
		e := b.awaitSent(t, ws.ReadRoom)
		var data ws.RoomData
		require.NoError(t, json.Unmarshal(e.Payload, &data))
		assert.Equal(t, "room-g", data.RoomID)
	})

	t.Run("cancelled when another room takes over", func(t *testing.T) {
		b := newBackend(t, true)
		c := newTestClient(t, b, WithMarkReadDelay(50*time.Millisecond))

		require.NoError(t, c.OpenGroup(context.Background(), "room-g"))
		_, err := c.OpenDirect(context.Background(), "u-peer")
		require.NoError(t, err)

		e := b.awaitSent(t, ws.ReadRoom)
		var data ws.RoomData
		require.NoError(t, json.Unmarshal(e.Payload, &data))
		assert.Equal(t, "room-d", data.RoomID)
	})
}

func TestOutboxFailureAndRetry(t *testing.T) {
	b := newBackend(t, false)
	c := newTestClient(t, b, WithOutbox(2, 20*time.Millisecond))
	require.NoError(t, c.OpenGroup(context.Background(), "room-g"))

	clientID, err := c.SendText("room-g", "into the void", "")
	require.NoError(t, err)

	// no echo arrives, the attempts run out and the message fails
	assert.Eventually(t, func() bool {
		msgs := c.Registry().Messages("room-g")
		return len(msgs) == 1 && msgs[0].Status == models.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	// a user retry re-enters the outbox with the original correlation id
	b.setEcho(true)
	require.NoError(t, c.Retry(clientID))

	assert.Eventually(t, func() bool {
		msgs := c.Registry().Messages("room-g")
		return len(msgs) == 1 && msgs[0].Status == models.StatusSent
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "srv-"+clientID, c.Registry().Messages("room-g")[0].ID)
}

func TestAttachmentCeiling(t *testing.T) {
	b := newBackend(t, true)
	c := newTestClient(t, b)
	require.NoError(t, c.OpenGroup(context.Background(), "room-g"))

	_, err := c.SendAttachment(context.Background(), "room-g", "huge.bin", 11<<20, strings.NewReader("x"))
	assert.ErrorIs(t, err, media.ErrAttachmentTooLarge)
	// the ceiling is enforced before any bytes leave the client
	assert.Equal(t, 0, b.uploadCount())
	assert.Empty(t, c.Registry().Messages("room-g"))
}

func TestSendAttachment(t *testing.T) {
	b := newBackend(t, true)
	c := newTestClient(t, b)
	require.NoError(t, c.OpenGroup(context.Background(), "room-g"))

	pngHeader := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 64)...)
	clientID, err := c.SendAttachment(context.Background(), "room-g", "pic.png",
		int64(len(pngHeader)), strings.NewReader(string(pngHeader)))
	require.NoError(t, err)
	assert.Equal(t, 1, b.uploadCount())

	assert.Eventually(t, func() bool {
		msgs := c.Registry().Messages("room-g")
		return len(msgs) == 1 && msgs[0].Status == models.StatusSent
	}, 2*time.Second, 10*time.Millisecond)

	msg := c.Registry().Messages("room-g")[0]
	assert.Equal(t, models.AttachmentMessage, msg.Kind)
	assert.Equal(t, clientID, msg.ClientID)
	require.NotNil(t, msg.Media)
	assert.Equal(t, "image/png", msg.Media.MimeType)
}

func TestTypingAndPresence(t *testing.T) {
	b := newBackend(t, true)
	c := newTestClient(t, b)

	b.push(t, ws.UserTyping, ws.TypingData{RoomID: "room-g", UserID: "u-peer", Typing: true})
	assert.Eventually(t, func() bool {
		return len(c.Registry().TypingUsers("room-g")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// our own typing echo is not rendered back to us
	b.push(t, ws.UserTyping, ws.TypingData{RoomID: "room-g", UserID: testSelf.ID, Typing: true})
	b.push(t, ws.Presence, ws.PresenceData{UserID: "u-peer", Online: true})
	assert.Eventually(t, func() bool {
		return c.Registry().IsOnline("u-peer")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"u-peer"}, c.Registry().TypingUsers("room-g"))
}

func TestStatusAndDeletion(t *testing.T) {
	b := newBackend(t, true)
	c := newTestClient(t, b)
	require.NoError(t, c.OpenGroup(context.Background(), "room-g"))

	clientID, err := c.SendText("room-g", "read me", "")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		msgs := c.Registry().Messages("room-g")
		return len(msgs) == 1 && msgs[0].Status == models.StatusSent
	}, 2*time.Second, 10*time.Millisecond)

	b.push(t, ws.MessageStatus, ws.StatusData{RoomID: "room-g", UserID: "u-peer", Status: models.StatusRead})
	assert.Eventually(t, func() bool {
		return c.Registry().Messages("room-g")[0].Status == models.StatusRead
	}, 2*time.Second, 10*time.Millisecond)

	b.push(t, ws.MessageDeleted, ws.DeleteData{
		MessageID: "srv-" + clientID,
		RoomID:    "room-g",
		Scope:     models.DeleteForEveryone,
		Actor:     "u-peer",
	})
	assert.Eventually(t, func() bool {
		msg := c.Registry().Messages("room-g")[0]
		return msg.Deleted && msg.Content == models.TombstoneContent
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatCleared(t *testing.T) {
	b := newBackend(t, true)
	c := newTestClient(t, b)
	require.NoError(t, c.OpenGroup(context.Background(), "room-g"))

	_, err := c.SendText("room-g", "gone soon", "")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(c.Registry().Messages("room-g")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	b.push(t, ws.ChatCleared, ws.RoomData{RoomID: "room-g"})
	assert.Eventually(t, func() bool {
		return len(c.Registry().Messages("room-g")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHistoryLoad(t *testing.T) {
	b := newBackend(t, true)
	b.history["room-g"] = []*models.Message{
		{ID: "h-1", RoomID: "room-g", Sender: "u-peer", Kind: models.TextMessage, Content: "first", Status: models.StatusSent},
		{ID: "h-2", RoomID: "room-g", Sender: testSelf.ID, Kind: models.TextMessage, Content: "second", Status: models.StatusRead},
	}
	c := newTestClient(t, b)
	require.NoError(t, c.OpenGroup(context.Background(), "room-g"))

	msgs := c.Registry().Messages("room-g")
	require.Len(t, msgs, 2)
	assert.Equal(t, "h-1", msgs[0].ID)
	assert.Equal(t, "h-2", msgs[1].ID)
}

func TestLogoutTearsDown(t *testing.T) {
	b := newBackend(t, true)
	c := newTestClient(t, b)

	c.Logout()
	assert.Nil(t, c.Registry())
	assert.Empty(t, c.Rest().Token())

	_, err := c.SendText("room-g", "too late", "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.ErrorIs(t, c.SetTyping("room-g", true), ErrNotAuthenticated)
}

func TestRequiresModuleForDirect(t *testing.T) {
	b := newBackend(t, true)
	restClient, err := rest.New(b.server.URL)
	require.NoError(t, err)
	c := New(restClient, b.socketURL())
	require.NoError(t, c.Login(context.Background(), rest.Credentials{Username: "alice", Password: "secret"}))
	t.Cleanup(c.Logout)

	_, err = c.OpenDirect(context.Background(), "u-peer")
	assert.ErrorIs(t, err, ErrNoModule)
}
