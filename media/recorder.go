package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	// ErrCaptureDenied is returned (or wrapped) by a Source when the user
	// denies access to the capture device. The recording flow aborts and
	// no partial data is kept.
	ErrCaptureDenied = errors.New("capture permission denied")
	// ErrNotRecording is returned by Stop when no recording is active.
	ErrNotRecording = errors.New("not recording")
	// ErrAlreadyRecording is returned by Record when one is.
	ErrAlreadyRecording = errors.New("already recording")
)

// Source produces audio chunks from a capture device. Start returns an error
// when the device is unavailable or permission is denied; otherwise the
// returned channel delivers chunks until Stop is called, then closes.
type Source interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Stop()
}

// Clip is a finished voice note: one playable unit plus its duration.
type Clip struct {
	Data     []byte
	Duration time.Duration
}

// Reader returns the clip's audio for upload.
func (c *Clip) Reader() io.Reader {
	return bytes.NewReader(c.Data)
}

// Seconds returns the duration in seconds as uploads expect it.
func (c *Clip) Seconds() float64 {
	return c.Duration.Seconds()
}

// Recorder buffers chunks from a Source into a single clip and tracks the
// elapsed duration while recording.
type Recorder struct {
	source Source
	now    func() time.Time

	mu        sync.Mutex
	recording bool
	buf       bytes.Buffer
	startedAt time.Time
	done      chan struct{}
}

func NewRecorder(source Source) *Recorder {
	return &Recorder{
		source: source,
		now:    time.Now,
	}
}

// Record asks the source for access and starts buffering. A permission
// denial is returned as-is and leaves the recorder idle.
func (r *Recorder) Record(ctx context.Context) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.mu.Unlock()

	chunks, err := r.source.Start(ctx)
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	r.mu.Lock()
	r.recording = true
	r.buf.Reset()
	r.startedAt = r.now()
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for chunk := range chunks {
			r.mu.Lock()
			r.buf.Write(chunk)
			r.mu.Unlock()
		}
	}()
	return nil
}

// Elapsed returns how long the current recording has been running.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return 0
	}
	return r.now().Sub(r.startedAt)
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Stop ends the capture and returns the buffered clip.
func (r *Recorder) Stop() (*Clip, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	done := r.done
	r.mu.Unlock()

	r.source.Stop()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	clip := &Clip{
		Data:     append([]byte(nil), r.buf.Bytes()...),
		Duration: r.now().Sub(r.startedAt),
	}
	r.buf.Reset()
	return clip, nil
}
