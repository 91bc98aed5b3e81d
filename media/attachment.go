package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxAttachmentSize is the ceiling for attachment uploads. Files above it
// are rejected locally before any upload request is made.
const MaxAttachmentSize = 10 << 20

var (
	// ErrAttachmentTooLarge is returned for files above MaxAttachmentSize.
	ErrAttachmentTooLarge = errors.New("attachment too large")
	// ErrEmptyAttachment is returned for zero-byte files.
	ErrEmptyAttachment = errors.New("attachment is empty")
)

// CheckAttachmentSize validates a file size against the upload ceiling.
func CheckAttachmentSize(size int64) error {
	if size <= 0 {
		return ErrEmptyAttachment
	}
	if size > MaxAttachmentSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrAttachmentTooLarge, size, MaxAttachmentSize)
	}
	return nil
}

// Sniff detects the mime type of a stream without consuming it: the returned
// reader replays the sniffed header before the remainder of r.
func Sniff(r io.Reader) (string, io.Reader, error) {
	header := make([]byte, 3072)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, fmt.Errorf("read header: %w", err)
	}
	mime := mimetype.Detect(header[:n]).String()
	return mime, io.MultiReader(bytes.NewReader(header[:n]), r), nil
}

// IsImage reports whether a mime type is eligible for a local preview.
func IsImage(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}
