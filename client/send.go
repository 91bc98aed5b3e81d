package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/classchat/classchat/media"
	"github.com/classchat/classchat/metrics"
	"github.com/classchat/classchat/models"
	"github.com/classchat/classchat/ws"
)

// ErrUnknownClientID is returned by Retry for a correlation id with no
// failed message behind it.
var ErrUnknownClientID = errors.New("unknown client message id")

var errUnconfirmed = errors.New("message unconfirmed")

// SendText appends an optimistic text message to the room and queues it on
// the realtime channel with a fresh correlation id. replyTo may be empty.
func (c *Client) SendText(roomID, content, replyTo string) (string, error) {
	return c.sendMessage(&models.Message{
		RoomID:  roomID,
		Kind:    models.TextMessage,
		Content: content,
		ReplyTo: replyTo,
	})
}

// SendVoice uploads a recorded clip and sends it as a voice message. An
// upload failure leaves the registry untouched so the caller can retry or
// discard the clip.
func (c *Client) SendVoice(ctx context.Context, roomID string, clip *media.Clip) (string, error) {
	ref, err := c.rest.UploadVoice(ctx, clip.Reader(), clip.Seconds())
	if err != nil {
		return "", fmt.Errorf("upload voice note: %w", err)
	}
	return c.sendMessage(&models.Message{
		RoomID: roomID,
		Kind:   models.VoiceMessage,
		Media:  ref,
	})
}

// SendAttachment validates the file against the size ceiling, uploads it and
// sends it as an attachment message. Validation happens before any upload
// call; a failure at any step leaves the compose state recoverable.
func (c *Client) SendAttachment(ctx context.Context, roomID, filename string, size int64, file io.Reader) (string, error) {
	if err := media.CheckAttachmentSize(size); err != nil {
		return "", err
	}
	mime, body, err := media.Sniff(file)
	if err != nil {
		return "", err
	}
	ref, err := c.rest.UploadAttachment(ctx, roomID, filename, body)
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	if ref.MimeType == "" {
		ref.MimeType = mime
	}
	return c.sendMessage(&models.Message{
		RoomID: roomID,
		Kind:   models.AttachmentMessage,
		Media:  ref,
	})
}

// sendMessage runs the optimistic-send path: generate a correlation id,
// make the message visible locally in sending status, then hand it to the
// outbox. The returned id lets the caller track or retry the message.
func (c *Client) sendMessage(msg *models.Message) (string, error) {
	_, reg, err := c.session()
	if err != nil {
		return "", err
	}

	msg.ClientID = uuid.NewString()
	msg.Sender = c.Self().ID

	// target lets the server route a direct message before the peer has
	// joined the room
	var target string
	if room, ok := reg.Room(msg.RoomID); ok {
		if peer, ok := room.DirectPeer(msg.Sender); ok {
			target = peer
		}
	}

	if err := reg.AppendLocal(msg); err != nil {
		return "", err
	}

	event, err := ws.NewEvent(ws.SendMessage, ws.MessageData{
		ClientID: msg.ClientID,
		RoomID:   msg.RoomID,
		Kind:     msg.Kind,
		Content:  msg.Content,
		Media:    msg.Media,
		Target:   target,
		ReplyTo:  msg.ReplyTo,
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.outbox[msg.ClientID] = event
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.awaitConfirmation(msg.ClientID, event)
	}()

	return msg.ClientID, nil
}

// awaitConfirmation resends an unconfirmed message at the outbox interval
// and marks it failed once the attempts are exhausted. Confirmation removes
// the entry from the outbox (see the new-message handler), which stops the
// loop early.
func (c *Client) awaitConfirmation(clientID string, event *ws.Event) {
	c.mu.Lock()
	ctx := c.listenCtx
	c.mu.Unlock()
	if ctx == nil {
		return
	}

	backoff := retry.WithMaxRetries(uint64(c.sendAttempts), retry.NewConstant(c.resendInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, _, serr := c.session()
		if serr != nil {
			return serr
		}
		if !c.pending(clientID) {
			return nil
		}
		if serr := conn.Send(event); serr != nil {
			c.logger.Debug("resend: " + serr.Error())
		}
		return retry.RetryableError(errUnconfirmed)
	})
	if err == nil || !c.pending(clientID) {
		return
	}

	_, reg, serr := c.session()
	if serr != nil {
		return
	}
	if reg.MarkFailed(clientID) {
		metrics.IncFailed()
		c.logger.Info("message failed", slog.String("client_id", clientID))
	}
}

// Retry re-enters a failed message into the outbox with its original
// correlation id, so a late echo of an earlier attempt still reconciles to
// the same message.
func (c *Client) Retry(clientID string) error {
	_, reg, err := c.session()
	if err != nil {
		return err
	}
	c.mu.Lock()
	event, ok := c.outbox[clientID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownClientID
	}
	if !reg.MarkSending(clientID) {
		return ErrUnknownClientID
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.awaitConfirmation(clientID, event)
	}()
	return nil
}

// pending reports whether a correlation id is still waiting for its echo.
func (c *Client) pending(clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.outbox[clientID]
	return ok
}

// confirm drops a correlation id from the outbox once the server echo
// arrives.
func (c *Client) confirm(clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.outbox[clientID]; !ok {
		return false
	}
	delete(c.outbox, clientID)
	return true
}
