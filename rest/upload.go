package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/classchat/classchat/models"
)

// UploadVoice uploads a recorded voice note and returns the media reference
// to attach to a message.
func (c *Client) UploadVoice(ctx context.Context, audio io.Reader, duration float64) (*models.MediaRef, error) {
	buf := &bytes.Buffer{}
	form := multipart.NewWriter(buf)

	part, err := form.CreateFormFile("audio", "voice-note.webm")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copy audio: %w", err)
	}
	if err := form.WriteField("duration", strconv.FormatFloat(duration, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("write duration: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	return c.uploadForm(ctx, "/uploads/voice", form.FormDataContentType(), buf)
}

// UploadAttachment uploads a file for a room and returns the media
// reference. Size validation against the attachment ceiling happens before
// this call (see the media package); the server enforces its own limit too.
func (c *Client) UploadAttachment(ctx context.Context, roomID, filename string, file io.Reader) (*models.MediaRef, error) {
	buf := &bytes.Buffer{}
	form := multipart.NewWriter(buf)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy file: %w", err)
	}
	if err := form.WriteField("room_id", roomID); err != nil {
		return nil, fmt.Errorf("write room id: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	return c.uploadForm(ctx, "/uploads/attachment", form.FormDataContentType(), buf)
}

func (c *Client) uploadForm(ctx context.Context, path, contentType string, body io.Reader) (*models.MediaRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	ref := &models.MediaRef{}
	if err := c.do(req, ref); err != nil {
		return nil, err
	}
	return ref, nil
}
